package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoomd/internal/broker"
	"kiwoomd/internal/broker/brokertest"
)

func newManager(t *testing.T, fake *brokertest.Fake, preferred string) *Manager {
	t.Helper()
	iv := broker.NewInvoker(8)
	iv.Start()
	t.Cleanup(iv.Stop)
	m := NewManager(fake, iv, preferred, time.Second)
	fake.SetHandlers(broker.Handlers{OnConnect: m.HandleConnect})
	return m
}

func TestLoginResolvesIdentity(t *testing.T) {
	fake := brokertest.New()
	fake.SetLoginInfo("ACCNO", "8012345611;8012345612;")
	fake.SetLoginInfo("USER_ID", " hana ")
	m := newManager(t, fake, "")

	info, err := m.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hana", info.UserID)
	assert.Equal(t, []string{"8012345611", "8012345612"}, info.Accounts)
	assert.Equal(t, "8012345611", info.Account, "first account is the default")
	assert.True(t, m.Connected())
}

func TestLoginHonorsPreferredAccount(t *testing.T) {
	fake := brokertest.New()
	fake.SetLoginInfo("ACCNO", "8012345611;8012345612;")
	m := newManager(t, fake, "8012345612")

	info, err := m.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "8012345612", info.Account)
}

func TestLoginFallsBackWhenPreferredMissing(t *testing.T) {
	fake := brokertest.New()
	fake.SetLoginInfo("ACCNO", "8012345611;")
	m := newManager(t, fake, "0000000000")

	info, err := m.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "8012345611", info.Account)
}

func TestLoginRejectedByBroker(t *testing.T) {
	fake := brokertest.New()
	fake.ConnectCode = -101
	m := newManager(t, fake, "")

	_, err := m.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-101")
	assert.False(t, m.Connected())
}

func TestLogout(t *testing.T) {
	fake := brokertest.New()
	m := newManager(t, fake, "")
	_, err := m.Login(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Logout(context.Background()))
	assert.False(t, m.Connected())
	assert.False(t, fake.IsConnected())
}
