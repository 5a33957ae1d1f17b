package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/roommanager"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
	"github.com/gorilla/websocket"
)

// fakeMessage is one queued inbound ReadMessage result.
type fakeMessage struct {
	messageType int
	data        []byte
	err         error
}

// fakeConn is an in-memory stand-in for a *websocket.Conn, letting tests
// drive readPump/writePump without a real socket.
type fakeConn struct {
	mu      sync.Mutex
	inbound chan fakeMessage
	written [][]byte
	closed  bool
	closeCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeMessage, 16),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeConn) pushText(data []byte) {
	f.inbound <- fakeMessage{messageType: websocket.TextMessage, data: data}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-f.inbound:
		return m.messageType, m.data, m.err
	case <-f.closeCh:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("connection closed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeConn) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

// stubRoom is a minimal types.Roomer recording what was called on it.
type stubRoom struct {
	mu               sync.Mutex
	id               types.RoomIDType
	diagramID        types.DiagramIDType
	connected        []types.ClientInterface
	disconnected     []types.ClientInterface
	dispatched       []dispatchCall
	dispatchedSignal chan struct{}
	empty            bool
	participants     int
}

type dispatchCall struct {
	frameType string
	raw       []byte
}

func newStubRoom(id types.RoomIDType, diagramID types.DiagramIDType) *stubRoom {
	return &stubRoom{id: id, diagramID: diagramID, dispatchedSignal: make(chan struct{}, 16)}
}

func (s *stubRoom) GetID() types.RoomIDType           { return s.id }
func (s *stubRoom) GetDiagramID() types.DiagramIDType { return s.diagramID }

func (s *stubRoom) HandleClientConnect(client types.ClientInterface, _ types.DisplayNameType, _ types.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, client)
}

func (s *stubRoom) HandleClientDisconnect(client types.ClientInterface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = append(s.disconnected, client)
}

func (s *stubRoom) Dispatch(_ context.Context, _ types.ClientInterface, frameType string, raw []byte) {
	s.mu.Lock()
	s.dispatched = append(s.dispatched, dispatchCall{frameType: frameType, raw: raw})
	s.mu.Unlock()
	select {
	case s.dispatchedSignal <- struct{}{}:
	default:
	}
}

func (s *stubRoom) IsEmpty() bool { return s.empty }

func (s *stubRoom) ParticipantCount() int { return s.participants }

func (s *stubRoom) Shutdown(context.Context) error { return nil }

// stubOracle grants a fixed permission to every check.
type stubOracle struct {
	permission types.Permission
	err        error
}

func (s stubOracle) Check(context.Context, types.UserIDType, types.DiagramIDType) (types.Permission, error) {
	return s.permission, s.err
}

// stubDirectory implements roomDirectory over a fixed set of rooms.
type stubDirectory struct {
	rooms map[types.RoomIDType]types.Roomer
	infos map[types.RoomIDType]roommanager.RoomInfo
}

func (s *stubDirectory) Get(roomID types.RoomIDType) (types.Roomer, bool) {
	r, ok := s.rooms[roomID]
	return r, ok
}

func (s *stubDirectory) GetInfo(roomID types.RoomIDType) (roommanager.RoomInfo, bool) {
	info, ok := s.infos[roomID]
	return info, ok
}
