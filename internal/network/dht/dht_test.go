package dht

import "testing"

import "github.com/stretchr/testify/require"

func TestQuorumResultSatisfied(t *testing.T) {
	cases := []struct {
		name   string
		q      QuorumResult
		wantOK bool
	}{
		{"quorum of one always satisfied", QuorumResult{AckedReplicas: 0, Quorum: 1}, true},
		{"quorum of zero treated as one", QuorumResult{AckedReplicas: 0, Quorum: 0}, true},
		{"acked plus primary meets quorum", QuorumResult{AckedReplicas: 1, Quorum: 2}, true},
		{"acked plus primary falls short", QuorumResult{AckedReplicas: 0, Quorum: 3}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.wantOK, tc.q.Satisfied())
		})
	}
}

func TestCountConnectedSlavesParsesInfoReplication(t *testing.T) {
	info := "# Replication\r\nrole:master\r\nconnected_slaves:2\r\nslave0:ip=...\r\n"
	require.Equal(t, 2, countConnectedSlaves(info))
}

func TestCountConnectedSlavesDefaultsToZero(t *testing.T) {
	require.Equal(t, 0, countConnectedSlaves("role:master\r\n"))
}

func TestRecordAndProvidersKeysAreNamespacedAndHex(t *testing.T) {
	table := New(nil, "test-ns", 0)
	key := table.recordKey([]byte{0xde, 0xad, 0xbe, 0xef})
	require.Equal(t, "test-ns:dht:record:deadbeef", key)

	pkey := table.providersKey([]byte{0xde, 0xad, 0xbe, 0xef})
	require.Equal(t, "test-ns:dht:providers:deadbeef", pkey)
}
