package resolver

// Hand-maintained in the shape mockgen would generate for
// registry.Client (the one interface SPEC_FULL.md's test-tooling section
// calls out for go.uber.org/mock: "the registry.Client used by the
// resolver tests"), since the toolchain can't be invoked in this
// environment to run `mockgen` itself.

import (
	"context"
	"reflect"

	"go.uber.org/mock/gomock"

	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/registry"
)

var _ registry.Client = (*MockClient)(nil)

// MockClient is a mock of the registry.Client interface.
type MockClient struct {
	ctrl     *gomock.Controller
	recorder *MockClientMockRecorder
}

// MockClientMockRecorder is the mock recorder for MockClient.
type MockClientMockRecorder struct {
	mock *MockClient
}

// NewMockClient creates a new mock instance.
func NewMockClient(ctrl *gomock.Controller) *MockClient {
	mock := &MockClient{ctrl: ctrl}
	mock.recorder = &MockClientMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockClient) EXPECT() *MockClientMockRecorder { return m.recorder }

func (m *MockClient) Query(ctx context.Context, dep registry.Dep) (registry.QueryResult, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Query", ctx, dep)
	ret0, _ := ret[0].(registry.QueryResult)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

func (mr *MockClientMockRecorder) Query(ctx, dep any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Query", reflect.TypeOf((*MockClient)(nil).Query), ctx, dep)
}

func (m *MockClient) BlockUntilReady(ctx context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "BlockUntilReady", ctx)
	ret0, _ := ret[0].(error)
	return ret0
}

func (mr *MockClientMockRecorder) BlockUntilReady(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "BlockUntilReady", reflect.TypeOf((*MockClient)(nil).BlockUntilReady), ctx)
}

func (m *MockClient) Download(ctx context.Context, id manifest.PackageID, cksum string) ([]byte, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Download", ctx, id, cksum)
	ret0, _ := ret[0].([]byte)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

func (mr *MockClientMockRecorder) Download(ctx, id, cksum any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Download", reflect.TypeOf((*MockClient)(nil).Download), ctx, id, cksum)
}

func (m *MockClient) InvalidateCache() {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "InvalidateCache")
}

func (mr *MockClientMockRecorder) InvalidateCache() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "InvalidateCache", reflect.TypeOf((*MockClient)(nil).InvalidateCache))
}

func (m *MockClient) AddOverlay(source manifest.SourceID, directory string) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "AddOverlay", source, directory)
}

func (mr *MockClientMockRecorder) AddOverlay(source, directory any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AddOverlay", reflect.TypeOf((*MockClient)(nil).AddOverlay), source, directory)
}
