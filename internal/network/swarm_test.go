package network

import "testing"

import "github.com/stretchr/testify/require"

func TestSwarmCapacityAndConnectedOnEmptySwarm(t *testing.T) {
	s := NewSwarm(2)
	require.Equal(t, 0, s.Count())
	require.False(t, s.AtCapacity())
	require.False(t, s.Connected("peerA"))
	_, ok := s.Client("peerA")
	require.False(t, ok)
	require.Empty(t, s.Peers())
	require.Empty(t, s.ExternalAddrs())
}

func TestSwarmExternalAddrPinning(t *testing.T) {
	s := NewSwarm(2)
	s.AddExternalAddr("1.2.3.4:4001")
	require.Contains(t, s.ExternalAddrs(), "1.2.3.4:4001")

	s.RemoveExternalAddr("1.2.3.4:4001", map[string]bool{"1.2.3.4:4001": true})
	require.Contains(t, s.ExternalAddrs(), "1.2.3.4:4001", "pinned address must survive removal")

	s.RemoveExternalAddr("1.2.3.4:4001", nil)
	require.NotContains(t, s.ExternalAddrs(), "1.2.3.4:4001")
}

func TestQuorumFailureError(t *testing.T) {
	var err error = &QuorumFailure{SuccessPeers: []PeerID{"a"}, Quorum: 3, Connected: 4}
	require.Equal(t, "network: quorum not met", err.Error())
}
