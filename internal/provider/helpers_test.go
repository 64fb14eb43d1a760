package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/dpsync/pkg/dataplane"
	"github.com/veesix-networks/dpsync/pkg/dataplane/mock"
	"github.com/veesix-networks/dpsync/pkg/mirror"
)

func portRecord(id uint32, name string) dataplane.InterfaceRecord {
	return dataplane.InterfaceRecord{
		ID:    id,
		Name:  name,
		Kind:  dataplane.KindPort,
		MTU:   1500,
		Flags: dataplane.IfFlagUp | dataplane.IfFlagRunning,
	}
}

func openSession(t *testing.T, dp *mock.Dataplane) dataplane.Session {
	t.Helper()
	sess, err := dp.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func ifaceNames(store *mirror.Store) []string {
	var out []string
	for _, iface := range store.List() {
		out = append(out, iface.Name)
	}
	return out
}

// staticConn hands out a fixed session and records teardown requests.
type staticConn struct {
	sess   dataplane.Session
	failed []error
}

func (c *staticConn) Session() (dataplane.Session, bool) {
	return c.sess, c.sess != nil
}

func (c *staticConn) Fail(sess dataplane.Session, err error) {
	c.failed = append(c.failed, err)
	c.sess = nil
	sess.Close()
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
