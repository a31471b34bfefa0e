// Hand-written in the shape MockGen produces.
// Source: github.com/sarchlab/heracles-asm/emit (interfaces: Streams)
//
//go:generate mockgen -write_package_comment=false -package=$GOPACKAGE -destination=mock_emit_test.go github.com/sarchlab/heracles-asm/emit Streams

package coscheduler_test

import (
	"reflect"

	"github.com/golang/mock/gomock"

	"github.com/sarchlab/heracles-asm/instr"
)

// MockStreams is a mock of the emit.Streams interface, hand-written in the
// shape mockgen would produce (no mockgen invocation per repo policy — see
// SPEC_FULL.md §3's testing section).
type MockStreams struct {
	ctrl     *gomock.Controller
	recorder *MockStreamsMockRecorder
}

// MockStreamsMockRecorder is the mock recorder for MockStreams.
type MockStreamsMockRecorder struct {
	mock *MockStreams
}

// NewMockStreams creates a new mock instance.
func NewMockStreams(ctrl *gomock.Controller) *MockStreams {
	mock := &MockStreams{ctrl: ctrl}
	mock.recorder = &MockStreamsMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockStreams) EXPECT() *MockStreamsMockRecorder {
	return m.recorder
}

// XInst mocks base method.
func (m *MockStreams) XInst(x *instr.XInst) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "XInst", x)
	ret0, _ := ret[0].(error)
	return ret0
}

// XInst indicates an expected call of XInst.
func (mr *MockStreamsMockRecorder) XInst(x interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "XInst", reflect.TypeOf((*MockStreams)(nil).XInst), x)
}

// CInst mocks base method.
func (m *MockStreams) CInst(c *instr.CInst) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "CInst", c)
	ret0, _ := ret[0].(error)
	return ret0
}

// CInst indicates an expected call of CInst.
func (mr *MockStreamsMockRecorder) CInst(c interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "CInst", reflect.TypeOf((*MockStreams)(nil).CInst), c)
}

// MInst mocks base method.
func (m *MockStreams) MInst(x *instr.MInst) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "MInst", x)
	ret0, _ := ret[0].(error)
	return ret0
}

// MInst indicates an expected call of MInst.
func (mr *MockStreamsMockRecorder) MInst(x interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "MInst", reflect.TypeOf((*MockStreams)(nil).MInst), x)
}
