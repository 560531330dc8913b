package app

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsyslog-core/pipeline/internal/config"
	"github.com/rsyslog-core/pipeline/pkg/message"
)

func newMsg(t *testing.T, facility, severity int) *message.Message {
	t.Helper()
	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldFacility, []byte(fmt.Sprint(facility))))
	require.NoError(t, m.WithField(message.FieldSeverity, []byte(fmt.Sprint(severity))))
	require.NoError(t, m.WithField(message.FieldMsg, []byte("hello")))
	return m
}

func testConfig(t *testing.T, targetAddr string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Actions: []config.ActionConfig{
			{
				Name:   "fwd1",
				Module: "omfwd",
				Params: map[string]interface{}{
					"protocol": "udp",
					"targets":  []string{targetAddr},
				},
			},
		},
		Rulesets: []config.RulesetConfig{
			{
				Name: "rs1",
				Filters: []config.FilterConfig{
					{
						Kind: "bitmap",
						Bitmap: map[string][]string{
							"local0": {"*"},
						},
						Actions: []string{"fwd1"},
					},
				},
			},
		},
	}
	applyTestDefaults(cfg)
	return cfg
}

// applyTestDefaults stands in for config.applyDefaults in tests that build a
// Config by hand instead of through config.Load, setting small test values
// (not the production defaults) for the fields this package reads.
func applyTestDefaults(cfg *config.Config) {
	cfg.Workers.PerAction = 1
	cfg.Workers.BatchSize = 8
	for i := range cfg.Actions {
		cfg.Actions[i].Queue.HighWaterMark = 100
		cfg.Actions[i].Breaker.MaxAttempts = 5
	}
}

func TestNewBuildsActionsAndRulesets(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer conn.Close()

	cfg := testConfig(t, conn.LocalAddr().String())
	a, err := New(cfg, nil, nil)
	require.NoError(t, err)
	defer a.deadLetter.Close()

	assert.Len(t, a.actions, 1)
	assert.Len(t, a.rulesets, 1)
}

func TestProcessMessageForwardsMatchingMessage(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer conn.Close()

	cfg := testConfig(t, conn.LocalAddr().String())
	a, err := New(cfg, nil, nil)
	require.NoError(t, err)
	defer a.deadLetter.Close()

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	m := newMsg(t, 16, 6) // local0.info, matches the bitmap filter
	require.NoError(t, a.ProcessMessage(m))
	m.Release()

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestBuildFilterRejectsUnknownKind(t *testing.T) {
	_, err := buildFilter(config.FilterConfig{Kind: "nonsense", Actions: []string{"a"}})
	require.Error(t, err)
}

func TestResolveFacilitiesWildcard(t *testing.T) {
	facs, err := resolveFacilities("*")
	require.NoError(t, err)
	assert.Len(t, facs, 24)
}
