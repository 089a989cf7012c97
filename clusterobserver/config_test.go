package clusterobserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{ClusterName: "prod", ZooKeeperServersCSV: "zk1:2181,zk2:2181"}, false},
		{"missing cluster name", Config{ZooKeeperServersCSV: "zk1:2181"}, true},
		{"missing zookeeper servers", Config{ClusterName: "prod"}, true},
		{"blank zookeeper servers csv", Config{ClusterName: "prod", ZooKeeperServersCSV: " , "}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ZooKeeperServers(t *testing.T) {
	cfg := Config{ZooKeeperServersCSV: "zk1:2181, zk2:2181 ,,zk3:2181"}
	assert.Equal(t, []string{"zk1:2181", "zk2:2181", "zk3:2181"}, cfg.ZooKeeperServers())

	empty := Config{}
	assert.Nil(t, empty.ZooKeeperServers())
}
