package call

import (
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// MediaSocket is a binary media-relay connection. Send and Receive
// carry encoded media packets; the relay fans Send out to the other
// call participants.
type MediaSocket interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// MediaDialer opens a MediaSocket at the given relay URL. Tests
// substitute in-memory implementations.
type MediaDialer func(wsURL string) (MediaSocket, error)

// DialMediaSocket is the production dialer, a binary websocket.
func DialMediaSocket(wsURL string) (MediaSocket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}
	return &wsMediaSocket{conn: conn}, nil
}

type wsMediaSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (s *wsMediaSocket) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *wsMediaSocket) Receive() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *wsMediaSocket) Close() error {
	return s.conn.Close()
}

// mediaURL joins the relay path returned by the backend with the
// signaling host and auth token.
func mediaURL(base, path, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	joined := u.ResolveReference(ref)
	q := joined.Query()
	q.Set("token", token)
	joined.RawQuery = q.Encode()
	return joined.String()
}
