package talos

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/siderolabs/talos-mcp-server/internal/test"
)

type LogStreamSuite struct {
	suite.Suite
	material *test.TLSMaterial
	apid     *test.Apid
	client   *Client
}

func (s *LogStreamSuite) SetupTest() {
	s.material = test.NewTLSMaterial()
	s.apid = test.StartApid(s.T(), s.material)
	path := filepath.Join(s.T().TempDir(), "talosconfig")
	s.Require().NoError(os.WriteFile(path, []byte(s.material.Talosconfig("homelab", s.apid.Endpoint())), 0o600))
	cfg, err := Load(path)
	s.Require().NoError(err)
	s.client, err = NewClient(cfg, "homelab", WithDialTimeout(2*time.Second))
	s.Require().NoError(err)
}

func (s *LogStreamSuite) TearDownTest() {
	s.client.Close()
}

func (s *LogStreamSuite) TestTailEndsWithEOF() {
	stream := s.client.LogStream(LogStreamRequest{Endpoint: s.apid.Endpoint(), Service: "etcd"})
	defer stream.Close()

	first, err := stream.Recv(s.T().Context())
	s.Require().NoError(err)
	s.Equal(s.apid.Endpoint(), first.Endpoint)
	s.Contains(string(first.Bytes), "service started")

	second, err := stream.Recv(s.T().Context())
	s.Require().NoError(err)
	s.Contains(string(second.Bytes), "health check passed")

	_, err = stream.Recv(s.T().Context())
	s.Require().ErrorIs(err, io.EOF, "a naturally closed stream ends with EOF, not a fault")
}

func (s *LogStreamSuite) TestStartIsLazy() {
	stream := s.client.LogStream(LogStreamRequest{Endpoint: s.apid.Endpoint(), Service: "etcd"})
	defer stream.Close()
	s.Zero(s.apid.CallCount("Logs"), "no remote call before the first Recv")

	_, err := stream.Recv(s.T().Context())
	s.Require().NoError(err)
	s.Equal(1, s.apid.CallCount("Logs"))
}

func (s *LogStreamSuite) TestMissingEndpoint() {
	stream := s.client.LogStream(LogStreamRequest{Service: "etcd"})
	_, err := stream.Recv(s.T().Context())
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeMissingTarget))
}

func (s *LogStreamSuite) TestMissingService() {
	stream := s.client.LogStream(LogStreamRequest{Endpoint: s.apid.Endpoint()})
	_, err := stream.Recv(s.T().Context())
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeInvalidArgument))
}

func (s *LogStreamSuite) TestInactivityTimeout() {
	stream := s.client.LogStream(LogStreamRequest{
		Endpoint:          s.apid.Endpoint(),
		Service:           "etcd",
		Follow:            true,
		InactivityTimeout: 250 * time.Millisecond,
	})
	defer stream.Close()

	// The fake delivers the tail, then holds the follow open forever.
	for i := 0; i < 2; i++ {
		_, err := stream.Recv(s.T().Context())
		s.Require().NoError(err)
	}

	_, err := stream.Recv(s.T().Context())
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeTimeout), "a silent follow stream ends with a classified timeout")

	_, err = stream.Recv(s.T().Context())
	s.Require().Error(err, "the sequence is over after its terminal error")
}

func (s *LogStreamSuite) TestCloseIsIdempotent() {
	stream := s.client.LogStream(LogStreamRequest{Endpoint: s.apid.Endpoint(), Service: "etcd"})
	stream.Close()
	stream.Close()
	_, err := stream.Recv(s.T().Context())
	s.Require().ErrorIs(err, io.EOF)
}

func TestLogStream(t *testing.T) {
	suite.Run(t, new(LogStreamSuite))
}
