package browser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsXPath(t *testing.T) {
	assert.True(t, IsXPath(`//a[contains(text(),"登录")]`))
	assert.True(t, IsXPath(`.//textarea`))
	assert.True(t, IsXPath(`(//div)[1]`))
	assert.False(t, IsXPath(`#login_username`))
	assert.False(t, IsXPath(`.layui-layer-content`))
}

func TestIsSessionLoss(t *testing.T) {
	lost := []error{
		errors.New("invalid session id"),
		errors.New("session deleted because of page crash"),
		errors.New("chrome not reachable"),
		errors.New("tab crashed"),
		errors.New("websocket: disconnected"),
		errors.New("no such session"),
		fmt.Errorf("find %q: %w", "#x", errors.New("Target closed")),
	}
	for _, err := range lost {
		assert.True(t, IsSessionLoss(err), "%v", err)
	}

	kept := []error{
		nil,
		errors.New("element not found"),
		errors.New("navigate: timeout"),
		errors.New("context deadline exceeded"),
	}
	for _, err := range kept {
		assert.False(t, IsSessionLoss(err), "%v", err)
	}
}

func TestIsSessionLossCaseInsensitive(t *testing.T) {
	assert.True(t, IsSessionLoss(errors.New("Invalid Session ID")))
}
