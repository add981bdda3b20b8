package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservedNames(t *testing.T) {
	for _, name := range []string{CmdHandshake, CmdDiscover, CmdBroadcast, CmdEmit, CmdDelivery, CmdError} {
		assert.True(t, Reserved(name), "%s should be reserved", name)
	}
	assert.False(t, Reserved("echo"))
	assert.False(t, Reserved(""))
}

func TestFrameBuilders(t *testing.T) {
	d := DataFrame("hello")
	assert.Nil(t, d.ID)
	assert.Nil(t, d.Command)
	assert.Equal(t, "hello", d.Data)

	c := CommandFrame("ping", nil)
	assert.Nil(t, c.ID)
	assert.Equal(t, "ping", StringOr(c.Command, ""))

	tg := TargetFrame("c1", "ping", nil)
	assert.Equal(t, "c1", StringOr(tg.ID, ""))
	assert.Equal(t, "ping", StringOr(tg.Command, ""))

	full := DeliveryFrame("c1", "ping", "data", "d1")
	assert.Equal(t, "c1", StringOr(full.ID, ""))
	assert.Equal(t, "ping", StringOr(full.Command, ""))
	assert.Equal(t, "d1", StringOr(full.Delivery, ""))
}

func TestStringOrNilDefault(t *testing.T) {
	assert.Equal(t, "default", StringOr(nil, "default"))
	assert.Equal(t, "value", StringOr(Str("value"), "default"))
}
