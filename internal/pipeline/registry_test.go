package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(s *fakeStreamer) *Registry {
	return NewRegistry(func(subject string) *Controller {
		return NewController(s, Options{Subject: subject})
	})
}

func TestRegistryEvictsIdleControllers(t *testing.T) {
	reg := newTestRegistry(newFakeStreamer(script{fragments: []string{launchPlan}}))
	reg.For("idle").Generate(context.Background(), "plan")
	_, stop := reg.For("watching").Subscribe()
	defer stop()

	assert.Zero(t, reg.EvictIdle(time.Now(), time.Hour))
	assert.Equal(t, 2, reg.Len())

	assert.Equal(t, 1, reg.EvictIdle(time.Now().Add(2*time.Hour), time.Hour))
	_, ok := reg.Lookup("idle")
	assert.False(t, ok)
	_, ok = reg.Lookup("watching")
	assert.True(t, ok)
}

func TestRegistryKeepsControllerWithRunInFlight(t *testing.T) {
	s := newFakeStreamer(script{fragments: []string{launchPlan}, blocks: true})
	reg := newTestRegistry(s)
	c := reg.For("busy")
	run := c.Start(context.Background(), "plan")
	<-s.started

	assert.Zero(t, reg.EvictIdle(time.Now().Add(2*time.Hour), time.Hour))

	require.True(t, c.Cancel())
	outcome, _ := run.Wait()
	assert.Equal(t, OutcomeCancelled, outcome)
	assert.Equal(t, 1, reg.EvictIdle(time.Now().Add(2*time.Hour), time.Hour))
	assert.Zero(t, reg.Len())
}

func TestRegistryEvictionForgetsState(t *testing.T) {
	reg := newTestRegistry(newFakeStreamer(script{fragments: []string{launchPlan}}))
	reg.For("a").Generate(context.Background(), "plan")
	require.Len(t, reg.For("a").State().Plans, 1)

	reg.EvictIdle(time.Now().Add(time.Minute), 0)
	assert.Empty(t, reg.For("a").State().Plans)
}
