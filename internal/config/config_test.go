package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestLoadDefaults() {
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(Default().Segment, cfg.Segment)
	s.Equal("info", cfg.Logging.Level)
	s.Empty(cfg.Admin.Addr)
}

func (s *ConfigTestSuite) TestLoadFromEnv() {
	s.T().Setenv("SHMCOPY_SHM_DIR", "/tmp/segments")
	s.T().Setenv("SHMCOPY_PEER_TIMEOUT", "250ms")
	s.T().Setenv("SHMCOPY_POLL_INTERVAL", "10ms")
	s.T().Setenv("SHMCOPY_ADMIN_ADDR", "127.0.0.1:9400")
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal("/tmp/segments", cfg.Segment.Dir)
	s.Equal(250*time.Millisecond, cfg.Segment.PeerTimeout)
	s.Equal(10*time.Millisecond, cfg.Segment.PollInterval)
	s.Equal("127.0.0.1:9400", cfg.Admin.Addr)
}

func (s *ConfigTestSuite) TestVerifyConfig() {
	cfg := Default()
	s.Require().NoError(cfg.Validate())

	cfg.Segment.PollInterval = 0
	s.Require().Error(cfg.Validate())
	cfg.Segment.PollInterval = 10 * time.Second
	s.Require().Error(cfg.Validate())
	cfg.Segment.PollInterval = 100 * time.Millisecond

	cfg.Segment.PeerTimeout = 0
	s.Require().Error(cfg.Validate())
	cfg.Segment.PeerTimeout = 5 * time.Second

	cfg.Segment.Dir = ""
	s.Require().Error(cfg.Validate())
}

func (s *ConfigTestSuite) TestLoadRejectsGarbage() {
	s.T().Setenv("SHMCOPY_PEER_TIMEOUT", "soon")
	_, err := Load()
	s.Require().Error(err)
}

func (s *ConfigTestSuite) TestLoadEnvFile() {
	path := filepath.Join(s.T().TempDir(), "shmcopy.env")
	s.Require().NoError(os.WriteFile(path, []byte("SHMCOPY_PEER_TIMEOUT=7s\nSHMCOPY_LOG_LEVEL=debug\n"), 0o600))
	// Values already in the environment are not overridden by the file.
	s.T().Setenv("SHMCOPY_LOG_LEVEL", "warn")
	s.T().Cleanup(func() { _ = os.Unsetenv("SHMCOPY_PEER_TIMEOUT") })

	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Equal(7*time.Second, cfg.Segment.PeerTimeout)
	s.Equal("warn", cfg.Logging.Level)

	_, err = Load(filepath.Join(s.T().TempDir(), "missing.env"))
	s.Require().Error(err)
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
