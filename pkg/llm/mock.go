package llm

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockCompleter is a testify mock for code that depends on a Completer.
type MockCompleter struct {
	mock.Mock
}

var _ Completer = new(MockCompleter)

func (m *MockCompleter) Complete(ctx context.Context, credential string, messages []Message, temperature float64) (string, error) {
	args := m.Called(ctx, credential, messages, temperature)
	return args.String(0), args.Error(1)
}
