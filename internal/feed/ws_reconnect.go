package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"smcbot/pkg/retry"
	"smcbot/pkg/utils"
)

// WSReconnectConfig конфигурация переподключения потока
type WSReconnectConfig struct {
	// delay(n) = min(MaxDelay, InitialDelay·2^n)
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// После стольких неудачных попыток подряд поднимается алерт.
	// Повторы при этом продолжаются.
	AlertCeiling   int
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultWSReconnectConfig 2s, 4s, 8s, 16s, 30s, 30s...
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       30 * time.Second,
		AlertCeiling:   10,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   20 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// BackoffDelay задержка перед попыткой n (с нуля): min(cap, base·2ⁿ)
func BackoffDelay(n int, base, maxDelay time.Duration) time.Duration {
	return retry.Backoff(n, base, maxDelay, 2)
}

// ErrManagerClosed менеджер закрыт
var ErrManagerClosed = errors.New("ws manager is closed")

// WSConnectionState состояние соединения
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WSReconnectManager держит WebSocket соединение с источником цен.
//
// При разрыве переподключается с экспоненциальной задержкой бесконечно,
// после AlertCeiling неудач подряд вызывает onCeiling (один раз на серию).
// Подписки восстанавливаются после каждого подключения.
type WSReconnectManager struct {
	name   string
	wsURL  string
	config WSReconnectConfig
	log    *utils.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex
	// gorilla/websocket допускает только одного писателя
	writeMu sync.Mutex

	state      int32 // atomic WSConnectionState
	retryCount int32 // atomic

	closeChan chan struct{}
	closeOnce sync.Once

	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)
	onAttempt    func(attempt int, delay time.Duration)
	onCeiling    func(attempts int, lastErr error)
	callbackMu   sync.RWMutex

	subscriptions   []interface{}
	subscriptionsMu sync.RWMutex

	// ожидание перед попыткой; подменяется в тестах
	after func(time.Duration) <-chan time.Time
}

// NewWSReconnectManager создаёт менеджер
func NewWSReconnectManager(name, wsURL string, config WSReconnectConfig, log *utils.Logger) *WSReconnectManager {
	if log == nil {
		log = utils.L()
	}
	return &WSReconnectManager{
		name:      name,
		wsURL:     wsURL,
		config:    config,
		log:       log.WithComponent("ws").With(utils.String("source", name)),
		closeChan: make(chan struct{}),
		after:     time.After,
	}
}

func (m *WSReconnectManager) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

func (m *WSReconnectManager) SetOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

func (m *WSReconnectManager) SetOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

// SetOnAttempt вызывается перед каждым ожиданием переподключения
func (m *WSReconnectManager) SetOnAttempt(handler func(attempt int, delay time.Duration)) {
	m.callbackMu.Lock()
	m.onAttempt = handler
	m.callbackMu.Unlock()
}

// SetOnCeiling вызывается при достижении AlertCeiling неудач подряд
func (m *WSReconnectManager) SetOnCeiling(handler func(attempts int, lastErr error)) {
	m.callbackMu.Lock()
	m.onCeiling = handler
	m.callbackMu.Unlock()
}

// AddSubscription запоминает подписку для восстановления после переподключения
func (m *WSReconnectManager) AddSubscription(sub interface{}) {
	m.subscriptionsMu.Lock()
	m.subscriptions = append(m.subscriptions, sub)
	m.subscriptionsMu.Unlock()
}

func (m *WSReconnectManager) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&m.state))
}

func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == WSStateConnected
}

// GetRetryCount текущее число неудачных попыток подряд
func (m *WSReconnectManager) GetRetryCount() int {
	return int(atomic.LoadInt32(&m.retryCount))
}

func (m *WSReconnectManager) closed() bool {
	select {
	case <-m.closeChan:
		return true
	default:
		return false
	}
}

// Start подключается; при неудаче уходит в фоновые повторы и возвращает ошибку первой попытки
func (m *WSReconnectManager) Start() error {
	if m.closed() {
		return ErrManagerClosed
	}
	err := m.Connect()
	if err != nil && !errors.Is(err, ErrManagerClosed) {
		m.log.Warn("Initial connect failed, retrying in background", utils.Err(err))
		atomic.StoreInt32(&m.state, int32(WSStateReconnecting))
		go m.reconnectLoop(err)
	}
	return err
}

// Connect одна попытка подключения
func (m *WSReconnectManager) Connect() error {
	if m.closed() {
		return ErrManagerClosed
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnecting))
	if err := m.dial(); err != nil {
		atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
		return err
	}
	m.markConnected()
	m.log.Info("Stream connected", utils.String("url", m.wsURL))
	return nil
}

func (m *WSReconnectManager) markConnected() {
	atomic.StoreInt32(&m.state, int32(WSStateConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	go m.readPump(conn)
	go m.pingPump(conn)
}

func (m *WSReconnectManager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	if m.config.PongTimeout > 0 && m.config.PingInterval > 0 {
		deadline := m.config.PingInterval + m.config.PongTimeout
		conn.SetReadDeadline(time.Now().Add(deadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	if err := m.resubscribe(conn); err != nil {
		conn.Close()
		m.connMu.Lock()
		m.conn = nil
		m.connMu.Unlock()
		return err
	}
	return nil
}

func (m *WSReconnectManager) resubscribe(conn *websocket.Conn) error {
	m.subscriptionsMu.RLock()
	subs := make([]interface{}, len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.subscriptionsMu.RUnlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	for _, sub := range subs {
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("resubscribe error: %w", err)
		}
	}
	if len(subs) > 0 {
		m.log.Debug("Resubscribed", utils.Int("channels", len(subs)))
	}
	return nil
}

func (m *WSReconnectManager) readPump(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()
		if onMessage != nil {
			onMessage(message)
		}
	}
}

func (m *WSReconnectManager) pingPump(conn *websocket.Conn) {
	if conn == nil || m.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			m.connMu.RLock()
			current := m.conn
			m.connMu.RUnlock()
			if current != conn {
				return
			}

			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.config.PongTimeout))
			m.writeMu.Unlock()
			if err != nil {
				m.handleDisconnect(conn, err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв; повторные вызовы для того же соединения игнорируются
func (m *WSReconnectManager) handleDisconnect(conn *websocket.Conn, err error) {
	if m.closed() {
		return
	}

	m.connMu.Lock()
	if m.conn != conn || conn == nil {
		m.connMu.Unlock()
		return
	}
	m.conn.Close()
	m.conn = nil
	m.connMu.Unlock()

	atomic.StoreInt32(&m.state, int32(WSStateReconnecting))

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}

	m.log.Warn("Stream disconnected", utils.Err(err))
	go m.reconnectLoop(err)
}

// reconnectLoop повторяет подключение бесконечно с delay(n) = min(cap, base·2ⁿ)
func (m *WSReconnectManager) reconnectLoop(lastErr error) {
	alerted := false

	for {
		if m.closed() {
			return
		}

		attempt := int(atomic.AddInt32(&m.retryCount, 1))
		delay := BackoffDelay(attempt-1, m.config.InitialDelay, m.config.MaxDelay)

		m.callbackMu.RLock()
		onAttempt := m.onAttempt
		m.callbackMu.RUnlock()
		if onAttempt != nil {
			onAttempt(attempt, delay)
		}

		m.log.Info("Reconnecting",
			utils.Attempt(attempt),
			utils.Duration("delay", delay),
		)

		select {
		case <-m.closeChan:
			return
		case <-m.after(delay):
		}

		if err := m.dial(); err != nil {
			lastErr = err
			m.log.Warn("Reconnect failed", utils.Attempt(attempt), utils.Err(err))

			if !alerted && m.config.AlertCeiling > 0 && attempt >= m.config.AlertCeiling {
				alerted = true
				m.log.Error("Reconnect attempt ceiling reached, stream source unavailable",
					utils.Attempt(attempt),
					utils.Int("ceiling", m.config.AlertCeiling),
					utils.Err(lastErr),
				)
				m.callbackMu.RLock()
				onCeiling := m.onCeiling
				m.callbackMu.RUnlock()
				if onCeiling != nil {
					onCeiling(attempt, lastErr)
				}
			}
			continue
		}

		if m.closed() {
			m.connMu.Lock()
			if m.conn != nil {
				m.conn.Close()
				m.conn = nil
			}
			m.connMu.Unlock()
			return
		}

		m.markConnected()
		m.log.Info("Stream reconnected", utils.Attempt(attempt))
		return
	}
}

// Send отправляет JSON сообщение
func (m *WSReconnectManager) Send(msg interface{}) error {
	if m.GetState() != WSStateConnected {
		return fmt.Errorf("not connected (state: %s)", m.GetState())
	}

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// Close закрывает соединение и останавливает переподключение
func (m *WSReconnectManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closeChan)
		atomic.StoreInt32(&m.state, int32(WSStateClosed))

		m.connMu.Lock()
		if m.conn != nil {
			err = m.conn.Close()
			m.conn = nil
		}
		m.connMu.Unlock()
	})
	return err
}
