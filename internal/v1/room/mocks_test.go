package room

import (
	"context"
	"sync"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/types"
)

// mockClient implements types.ClientInterface for room-package unit tests.
type mockClient struct {
	mu           sync.Mutex
	id           types.UserIDType
	displayName  types.DisplayNameType
	permission   types.Permission
	sent         []sentFrame
	disconnected bool
}

type sentFrame struct {
	frameType string
	payload   any
}

func newMockClient(id types.UserIDType, displayName types.DisplayNameType, permission types.Permission) *mockClient {
	return &mockClient{id: id, displayName: displayName, permission: permission}
}

func (m *mockClient) GetID() types.UserIDType             { return m.id }
func (m *mockClient) GetDisplayName() types.DisplayNameType { return m.displayName }
func (m *mockClient) GetPermission() types.Permission     { return m.permission }
func (m *mockClient) SetPermission(p types.Permission)    { m.permission = p }

func (m *mockClient) SendFrame(frameType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentFrame{frameType: frameType, payload: payload})
}

func (m *mockClient) SendRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentFrame{frameType: "__raw__", payload: data})
}

func (m *mockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

func (m *mockClient) framesOfType(frameType string) []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentFrame
	for _, f := range m.sent {
		if f.frameType == frameType {
			out = append(out, f)
		}
	}
	return out
}

// mockOracle is a types.AccessOracle stub returning a fixed permission.
type mockOracle struct{ permission types.Permission }

func (m *mockOracle) Check(_ context.Context, _ types.UserIDType, _ types.DiagramIDType) (types.Permission, error) {
	return m.permission, nil
}

// mockSnapshotSink is a types.SnapshotSink stub recording Save calls.
type mockSnapshotSink struct {
	mu      sync.Mutex
	saves   int
	lastVer uint64
}

func (m *mockSnapshotSink) Save(_ context.Context, _ types.DiagramIDType, _ []byte, version uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.lastVer = version
	return nil
}

func (m *mockSnapshotSink) Latest(_ context.Context, _ types.DiagramIDType) ([]byte, uint64, error) {
	return nil, 0, nil
}

func (m *mockSnapshotSink) Cleanup(_ context.Context, _ types.DiagramIDType, _ int) error {
	return nil
}
