package talos

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"

	"github.com/siderolabs/talos-mcp-server/internal/test"
)

type ClientSuite struct {
	suite.Suite
	material *test.TLSMaterial
	apid     *test.Apid
	client   *Client
}

func (s *ClientSuite) SetupTest() {
	s.material = test.NewTLSMaterial()
	s.apid = test.StartApid(s.T(), s.material)
	s.client = s.newClient("homelab", s.apid.Endpoint())
}

func (s *ClientSuite) TearDownTest() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *ClientSuite) newClient(contextName string, endpoints ...string) *Client {
	path := filepath.Join(s.T().TempDir(), "talosconfig")
	s.Require().NoError(os.WriteFile(path, []byte(s.material.Talosconfig(contextName, endpoints...)), 0o600))
	cfg, err := Load(path)
	s.Require().NoError(err)
	client, err := NewClient(cfg, contextName, WithDialTimeout(2*time.Second), WithCallTimeout(5*time.Second))
	s.Require().NoError(err)
	return client
}

// unreachableEndpoint returns a loopback address nothing listens on.
func (s *ClientSuite) unreachableEndpoint() string {
	addr, err := test.RandomPortAddress()
	s.Require().NoError(err)
	return fmt.Sprintf("127.0.0.1:%d", addr.Port)
}

func (s *ClientSuite) TestVersion() {
	result, err := s.client.Version(s.T().Context())
	s.Require().NoError(err)
	s.Require().Len(result.Nodes, 1)
	node := result.Nodes[s.apid.Endpoint()]
	s.Require().Nil(node.Err)
	info, ok := node.Payload.(VersionInfo)
	s.Require().True(ok, "payload must be a VersionInfo")
	s.Equal(test.ApidVersionTag, info.Tag)
	s.Equal("metal", info.Platform)
}

func (s *ClientSuite) TestVersionFanOut() {
	second := test.StartApid(s.T(), s.material)
	client := s.newClient("homelab", s.apid.Endpoint(), second.Endpoint())
	defer client.Close()

	result, err := client.Version(s.T().Context())
	s.Require().NoError(err)
	s.Run("one entry per target, keyed by endpoint", func() {
		s.Len(result.Nodes, 2)
		s.Contains(result.Nodes, s.apid.Endpoint())
		s.Contains(result.Nodes, second.Endpoint())
	})
	s.Run("every target was actually queried", func() {
		s.Equal(1, s.apid.CallCount("Version"))
		s.Equal(1, second.CallCount("Version"))
	})
}

func (s *ClientSuite) TestChannelReuseAcrossCalls() {
	for i := 0; i < 3; i++ {
		_, err := s.client.Version(s.T().Context())
		s.Require().NoError(err)
	}
	s.Equal(3, s.apid.CallCount("Version"))
}

func (s *ClientSuite) TestRetryOnceOnTransportFault() {
	s.apid.FailNext("Version", 1, codes.Unavailable)
	result, err := s.client.Version(s.T().Context())
	s.Require().NoError(err, "a single transport fault must be absorbed by the retry")
	s.Len(result.Succeeded(), 1)
	s.Equal(2, s.apid.CallCount("Version"), "exactly one retry")
}

func (s *ClientSuite) TestNoSecondRetryOnPersistentTransportFault() {
	s.apid.FailNext("Version", 5, codes.Unavailable)
	result, err := s.client.Version(s.T().Context())
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeConnection))
	s.Len(result.Failed(), 1)
	s.Equal(2, s.apid.CallCount("Version"), "transport faults retry exactly once, not until exhaustion")
}

// newSlowCallClient builds a client whose per-call budget is short enough
// for a stalled fake apid to exceed it within the test.
func (s *ClientSuite) newSlowCallClient() *Client {
	path := filepath.Join(s.T().TempDir(), "talosconfig")
	s.Require().NoError(os.WriteFile(path, []byte(s.material.Talosconfig("homelab", s.apid.Endpoint())), 0o600))
	cfg, err := Load(path)
	s.Require().NoError(err)
	client, err := NewClient(cfg, "homelab", WithDialTimeout(2*time.Second), WithCallTimeout(250*time.Millisecond))
	s.Require().NoError(err)
	return client
}

func (s *ClientSuite) TestRetryOnceOnCallTimeout() {
	client := s.newSlowCallClient()
	defer client.Close()

	s.apid.StallNext("Version", 1)
	result, err := client.Version(s.T().Context())
	s.Require().NoError(err, "a single stalled call must be absorbed by the retry")
	s.Len(result.Succeeded(), 1)
	s.Equal(2, s.apid.CallCount("Version"), "exactly one retry")
}

func (s *ClientSuite) TestNoSecondRetryOnPersistentTimeout() {
	client := s.newSlowCallClient()
	defer client.Close()

	s.apid.StallNext("Version", 5)
	result, err := client.Version(s.T().Context())
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeTimeout))
	s.Len(result.Failed(), 1)
	s.Equal(2, s.apid.CallCount("Version"), "timeouts retry exactly once, not until exhaustion")
}

func (s *ClientSuite) TestNoRetryOnRemoteOperationFault() {
	s.apid.FailNext("Version", 1, codes.Internal)
	_, err := s.client.Version(s.T().Context())
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeRemoteOperation))
	s.Equal(1, s.apid.CallCount("Version"), "application rejections are never retried")
}

func (s *ClientSuite) TestAuthenticationClassification() {
	s.apid.FailNext("Version", 1, codes.Unauthenticated)
	_, err := s.client.Version(s.T().Context())
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeAuthentication))
	s.Equal(1, s.apid.CallCount("Version"))
}

func (s *ClientSuite) TestPartialFailure() {
	client := s.newClient("homelab", s.apid.Endpoint(), s.unreachableEndpoint())
	defer client.Close()

	result, err := client.Version(s.T().Context())
	s.Require().Error(err)
	var partial *PartialFailure
	s.Require().ErrorAs(err, &partial)
	s.Run("the result still holds every per-node outcome", func() {
		s.Len(result.Nodes, 2)
		s.Len(result.Succeeded(), 1)
		s.Len(result.Failed(), 1)
	})
	s.Run("the failed node carries a connection error", func() {
		node := result.Nodes[result.Failed()[0]]
		s.Require().NotNil(node.Err)
		s.Equal(ErrorCodeConnection, node.Err.Code)
	})
}

func (s *ClientSuite) TestAllTargetsFailed() {
	client := s.newClient("homelab", s.unreachableEndpoint())
	defer client.Close()

	result, err := client.Version(s.T().Context())
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeConnection), "uniform failure surfaces the classified error, not a partial failure")
	s.Len(result.Failed(), 1)
}

func (s *ClientSuite) TestUnknownOperation() {
	_, err := s.client.Do(s.T().Context(), Request{Operation: "self-destruct"})
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeUnknownOperation))
	s.Zero(s.apid.TotalCalls())
}

func (s *ClientSuite) TestInvalidArgumentRejectedBeforeDispatch() {
	_, err := s.client.Containers(s.T().Context(), "k8s.io", "docker")
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeInvalidArgument))
	s.Zero(s.apid.TotalCalls())
}

func (s *ClientSuite) TestTargetMandatoryWithoutTarget() {
	_, err := s.client.Do(s.T().Context(), Request{Operation: OpReboot})
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeMissingTarget), "reboot must never default to the first endpoint")
	s.Zero(s.apid.TotalCalls())
}

func (s *ClientSuite) TestRebootPinnedToTarget() {
	second := test.StartApid(s.T(), s.material)
	client := s.newClient("homelab", s.apid.Endpoint(), second.Endpoint())
	defer client.Close()

	result, err := client.Reboot(s.T().Context(), second.Endpoint(), "default")
	s.Require().NoError(err)
	s.Len(result.Nodes, 1)
	s.Equal(0, s.apid.CallCount("Reboot"))
	s.Equal(1, second.CallCount("Reboot"))
	status, ok := result.Nodes[second.Endpoint()].Payload.(RebootStatus)
	s.Require().True(ok)
	s.NotEmpty(status.ActorID)
}

func (s *ClientSuite) TestRebootInvalidMode() {
	_, err := s.client.Reboot(s.T().Context(), s.apid.Endpoint(), "warm-and-fuzzy")
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeInvalidArgument))
	s.Zero(s.apid.TotalCalls())
}

func (s *ClientSuite) TestApplyConfiguration() {
	result, err := s.client.ApplyConfiguration(s.T().Context(), s.apid.Endpoint(), "machine:\n  type: worker\n", "no-reboot", true)
	s.Require().NoError(err)
	status, ok := result.Nodes[s.apid.Endpoint()].Payload.(ApplyConfigurationStatus)
	s.Require().True(ok)
	s.Equal("no-reboot", status.Mode)
	s.Contains(status.ModeDetails, "dry run")
}

func (s *ClientSuite) TestApplyConfigurationRequiresDocument() {
	_, err := s.client.Do(s.T().Context(), Request{
		Operation: OpApplyConfiguration,
		Targets:   []string{s.apid.Endpoint()},
	})
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeInvalidArgument))
	s.Zero(s.apid.TotalCalls())
}

func (s *ClientSuite) TestContainers() {
	result, err := s.client.Containers(s.T().Context(), "", "")
	s.Require().NoError(err)
	containers, ok := result.Nodes[s.apid.Endpoint()].Payload.([]ContainerInfo)
	s.Require().True(ok)
	s.Require().Len(containers, 2)
	s.Equal("k8s.io", containers[0].Namespace, "namespace defaults to k8s.io")
	s.Equal("kube-apiserver", containers[0].ID)
}

func (s *ClientSuite) TestStats() {
	result, err := s.client.Stats(s.T().Context())
	s.Require().NoError(err)
	stats, ok := result.Nodes[s.apid.Endpoint()].Payload.(SystemStats)
	s.Require().True(ok)
	s.InDelta(0.42, stats.Load1, 0.001)
	s.Equal(uint64(123456), stats.ContextSwitches)
	s.Equal(uint64(16*1024*1024), stats.MemTotal)
	s.False(stats.BootTime.IsZero())
}

func (s *ClientSuite) TestServices() {
	result, err := s.client.Services(s.T().Context())
	s.Require().NoError(err)
	services, ok := result.Nodes[s.apid.Endpoint()].Payload.([]ServiceInfo)
	s.Require().True(ok)
	s.Require().Len(services, 3)
	s.Equal("apid", services[0].ID)
	s.True(services[0].Healthy)
	s.True(services[2].HealthUnknown)
}

func (s *ClientSuite) TestServiceLogs() {
	result, err := s.client.ServiceLogs(s.T().Context(), "etcd", 10)
	s.Require().NoError(err)
	logs, ok := result.Nodes[s.apid.Endpoint()].Payload.(ServiceLogs)
	s.Require().True(ok)
	s.Equal("etcd", logs.Service)
	s.Require().Len(logs.Lines, 2)
	s.Contains(logs.Lines[0], "service started")
}

func (s *ClientSuite) TestServiceLogsRequiresService() {
	_, err := s.client.Do(s.T().Context(), Request{Operation: OpLogs})
	s.Require().Error(err)
	s.True(IsCode(err, ErrorCodeInvalidArgument))
}

func (s *ClientSuite) TestKubeconfig() {
	result, err := s.client.Kubeconfig(s.T().Context())
	s.Require().NoError(err)
	info, ok := result.Nodes[s.apid.Endpoint()].Payload.(KubeconfigInfo)
	s.Require().True(ok)
	s.Equal("admin@talos-test", info.CurrentContext)
	s.Equal("https://10.5.0.2:6443", info.Server)
	s.Contains(info.Kubeconfig, "apiVersion: v1")
}

func (s *ClientSuite) TestEtcdStatus() {
	result, err := s.client.EtcdStatus(s.T().Context())
	s.Require().NoError(err)
	status, ok := result.Nodes[s.apid.Endpoint()].Payload.(EtcdMemberStatus)
	s.Require().True(ok)
	s.Equal(status.MemberID, status.Leader, "the fake node leads its own cluster")
	s.Equal("3.5.16", status.ProtocolVersion)
}

func (s *ClientSuite) TestEtcdMembers() {
	result, err := s.client.EtcdMembers(s.T().Context())
	s.Require().NoError(err)
	members, ok := result.Nodes[s.apid.Endpoint()].Payload.([]EtcdMember)
	s.Require().True(ok)
	s.Require().Len(members, 1)
	s.Equal("talos-test-node", members[0].Hostname)
}

func (s *ClientSuite) TestCancellationDiscardsResults() {
	ctx, cancel := context.WithCancel(s.T().Context())
	cancel()
	result, err := s.client.Version(ctx)
	s.Require().Error(err)
	s.ErrorIs(err, context.Canceled)
	s.Nil(result, "cancellation is all-or-nothing, no partial result escapes")
}

func (s *ClientSuite) TestExplicitTargetsAreDeduplicated() {
	result, err := s.client.Version(s.T().Context(), s.apid.Endpoint(), s.apid.Endpoint())
	s.Require().NoError(err)
	s.Len(result.Nodes, 1)
	s.Equal(1, s.apid.CallCount("Version"))
}

func (s *ClientSuite) TestContextSelection() {
	s.Equal("homelab", s.client.ContextName())
	s.Equal([]string{s.apid.Endpoint()}, s.client.Endpoints())
}

func TestClient(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}
