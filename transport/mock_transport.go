// Code generated by MockGen-shaped hand authoring for Transport. Kept
// alongside the interface since the go:generate toolchain isn't run in
// this workspace; the shape matches go.uber.org/mock's generated output.
//
// Source: transport.go (interface Transport)

package transport

import (
	"context"
	"reflect"

	"go.uber.org/mock/gomock"

	"github.com/sipstack/transact/sip"
)

// MockTransport is a mock of the Transport interface.
type MockTransport struct {
	ctrl     *gomock.Controller
	recorder *MockTransportMockRecorder
}

// MockTransportMockRecorder is the mock recorder for MockTransport.
type MockTransportMockRecorder struct {
	mock *MockTransport
}

// NewMockTransport creates a new mock instance.
func NewMockTransport(ctrl *gomock.Controller) *MockTransport {
	mock := &MockTransport{ctrl: ctrl}
	mock.recorder = &MockTransportMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTransport) EXPECT() *MockTransportMockRecorder { return m.recorder }

// Send mocks base method.
func (m *MockTransport) Send(ctx context.Context, dest Destination, msg sip.Message) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Send", ctx, dest, msg)
	ret0, _ := ret[0].(error)
	return ret0
}

// Send indicates an expected call of Send.
func (mr *MockTransportMockRecorder) Send(ctx, dest, msg any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Send", reflect.TypeOf((*MockTransport)(nil).Send), ctx, dest, msg)
}

// Reliable mocks base method.
func (m *MockTransport) Reliable(transport string) bool {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Reliable", transport)
	ret0, _ := ret[0].(bool)
	return ret0
}

// Reliable indicates an expected call of Reliable.
func (mr *MockTransportMockRecorder) Reliable(transport any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Reliable", reflect.TypeOf((*MockTransport)(nil).Reliable), transport)
}

// OnRequest mocks base method.
func (m *MockTransport) OnRequest(h RequestHandler) func() {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "OnRequest", h)
	ret0, _ := ret[0].(func())
	return ret0
}

// OnRequest indicates an expected call of OnRequest.
func (mr *MockTransportMockRecorder) OnRequest(h any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "OnRequest", reflect.TypeOf((*MockTransport)(nil).OnRequest), h)
}

// OnResponse mocks base method.
func (m *MockTransport) OnResponse(h ResponseHandler) func() {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "OnResponse", h)
	ret0, _ := ret[0].(func())
	return ret0
}

// OnResponse indicates an expected call of OnResponse.
func (mr *MockTransportMockRecorder) OnResponse(h any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "OnResponse", reflect.TypeOf((*MockTransport)(nil).OnResponse), h)
}
