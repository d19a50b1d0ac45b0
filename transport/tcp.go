package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hyperchain-net/hyperchain/crypto"
)

// maxFrameSize bounds a single TCP frame.
const maxFrameSize = 32 * 1024 * 1024

// readTimeout prevents a stalled peer from pinning a read loop forever.
const readTimeout = 30 * time.Second

// tcpFrame is the length-prefixed JSON unit exchanged between nodes.
type tcpFrame struct {
	Channel       string          `json:"channel"`
	SenderAddress string          `json:"sender_address"`
	Message       json.RawMessage `json:"message"`
}

// TCPTransport implements Transport over plain TCP with length-prefixed
// JSON frames. Inbound frames are sorted into per-channel inboxes;
// outbound sends dial per destination and reuse the connection.
type TCPTransport struct {
	address string

	mu       sync.Mutex
	inbox    map[string][]MessageInfo
	outbound map[string]net.Conn

	listener net.Listener
	stopCh   chan struct{}
}

// NewTCPTransport creates a transport that will listen on listenAddr.
// Call Start before polling.
func NewTCPTransport(listenAddr string) *TCPTransport {
	return &TCPTransport{
		address:  listenAddr,
		inbox:    make(map[string][]MessageInfo),
		outbound: make(map[string]net.Conn),
		stopCh:   make(chan struct{}),
	}
}

// Address returns the configured listen address.
func (t *TCPTransport) Address() string {
	return t.address
}

// Start begins accepting connections.
func (t *TCPTransport) Start() error {
	ln, err := net.Listen("tcp", t.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.address, err)
	}
	t.listener = ln
	go t.acceptLoop()
	return nil
}

// Stop shuts the transport down and closes every connection.
func (t *TCPTransport) Stop() {
	close(t.stopCh)
	if t.listener != nil {
		t.listener.Close()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.outbound {
		conn.Close()
	}
	t.outbound = make(map[string]net.Conn)
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				logrus.WithError(err).Warn("tcp transport accept failed")
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		go t.readLoop(conn)
	}
}

func (t *TCPTransport) readLoop(conn net.Conn) {
	defer conn.Close()
	for {
		frame, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				logrus.WithError(err).Debug("tcp transport read failed")
			}
			return
		}

		message := new(Message)
		if err := json.Unmarshal(frame.Message, message); err != nil {
			logrus.WithError(err).Debug("tcp transport dropped malformed envelope")
			continue
		}

		t.mu.Lock()
		t.inbox[frame.Channel] = append(t.inbox[frame.Channel], MessageInfo{
			Sender: SenderInfo{
				ClientPublic:  message.Sender,
				ServerAddress: frame.SenderAddress,
			},
			Message: message,
		})
		t.mu.Unlock()
	}
}

func (t *TCPTransport) connect(serverAddress string) (net.Conn, error) {
	t.mu.Lock()
	conn, ok := t.outbound[serverAddress]
	t.mu.Unlock()
	if ok {
		return conn, nil
	}

	conn, err := net.Dial("tcp", serverAddress)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", serverAddress, err)
	}

	t.mu.Lock()
	t.outbound[serverAddress] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *TCPTransport) dropConn(serverAddress string) {
	t.mu.Lock()
	if conn, ok := t.outbound[serverAddress]; ok {
		conn.Close()
		delete(t.outbound, serverAddress)
	}
	t.mu.Unlock()
}

// Send frames the envelope to the node at serverAddress. A failed write
// drops the cached connection so the next send redials.
func (t *TCPTransport) Send(serverAddress string, _ crypto.PublicKey, channel string, message *Message) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	data, err := json.Marshal(tcpFrame{
		Channel:       channel,
		SenderAddress: t.address,
		Message:       raw,
	})
	if err != nil {
		return err
	}

	conn, err := t.connect(serverAddress)
	if err != nil {
		return err
	}

	if err := writeFrame(conn, data); err != nil {
		t.dropConn(serverAddress)
		return err
	}
	return nil
}

// Poll drains up to max messages from the channel's inbox.
func (t *TCPTransport) Poll(channel string, max int) ([]MessageInfo, uint64, error) {
	if max <= 0 {
		max = defaultPollBatch
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	queued := t.inbox[channel]
	if len(queued) == 0 {
		return nil, 0, nil
	}
	if max > len(queued) {
		max = len(queued)
	}

	batch := make([]MessageInfo, max)
	copy(batch, queued[:max])
	t.inbox[channel] = queued[max:]

	return batch, uint64(len(queued) - max), nil
}

func writeFrame(conn net.Conn, data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := conn.Write(header[:]); err != nil {
		return err
	}
	_, err := conn.Write(data)
	return err
}

func readFrame(conn net.Conn) (tcpFrame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	var header [4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return tcpFrame{}, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return tcpFrame{}, fmt.Errorf("frame too large: %d bytes", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return tcpFrame{}, err
	}

	var frame tcpFrame
	if err := json.Unmarshal(buf, &frame); err != nil {
		return tcpFrame{}, err
	}
	return frame, nil
}
