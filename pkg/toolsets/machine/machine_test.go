package machine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"

	"github.com/siderolabs/talos-mcp-server/internal/test"
	"github.com/siderolabs/talos-mcp-server/pkg/api"
	"github.com/siderolabs/talos-mcp-server/pkg/output"
	"github.com/siderolabs/talos-mcp-server/pkg/talos"
)

type callRequest struct {
	args map[string]any
}

func (c callRequest) GetArguments() map[string]any {
	return c.args
}

type MachineToolsSuite struct {
	suite.Suite
	material *test.TLSMaterial
	apid     *test.Apid
	client   *talos.Client
}

func (s *MachineToolsSuite) SetupTest() {
	s.material = test.NewTLSMaterial()
	s.apid = test.StartApid(s.T(), s.material)
	path := filepath.Join(s.T().TempDir(), "talosconfig")
	s.Require().NoError(os.WriteFile(path, []byte(s.material.Talosconfig("homelab", s.apid.Endpoint())), 0o600))
	cfg, err := talos.Load(path)
	s.Require().NoError(err)
	s.client, err = talos.NewClient(cfg, "homelab",
		talos.WithDialTimeout(2*time.Second), talos.WithCallTimeout(5*time.Second))
	s.Require().NoError(err)
}

func (s *MachineToolsSuite) TearDownTest() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *MachineToolsSuite) params(args map[string]any) api.ToolHandlerParams {
	return api.ToolHandlerParams{
		Context:         s.T().Context(),
		Client:          s.client,
		ToolCallRequest: callRequest{args: args},
		ListOutput:      output.FromString("yaml"),
	}
}

func (s *MachineToolsSuite) handler(name string) api.ToolHandlerFunc {
	for _, tool := range (&Toolset{}).GetTools() {
		if tool.Tool.Name == name {
			return tool.Handler
		}
	}
	s.Require().Failf("tool not found", "no tool named %s", name)
	return nil
}

func (s *MachineToolsSuite) TestToolsRegistered() {
	tools := (&Toolset{}).GetTools()
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Tool.Name)
	}
	s.ElementsMatch([]string{
		"talos_version",
		"talos_list_containers",
		"talos_system_stats",
		"talos_list_services",
		"talos_service_logs",
		"talos_reboot",
		"talos_apply_config",
		"talos_kubeconfig",
	}, names)
}

func (s *MachineToolsSuite) TestReadOnlyAnnotations() {
	destructive := map[string]bool{"talos_reboot": true, "talos_apply_config": true}
	for _, tool := range (&Toolset{}).GetTools() {
		s.Run(tool.Tool.Name, func() {
			s.Require().NotNil(tool.Tool.Annotations.ReadOnlyHint)
			s.Require().NotNil(tool.Tool.Annotations.DestructiveHint)
			if destructive[tool.Tool.Name] {
				s.False(*tool.Tool.Annotations.ReadOnlyHint)
				s.True(*tool.Tool.Annotations.DestructiveHint)
			} else {
				s.True(*tool.Tool.Annotations.ReadOnlyHint)
				s.False(*tool.Tool.Annotations.DestructiveHint)
			}
		})
	}
}

func (s *MachineToolsSuite) TestDestructiveToolsRequireNode() {
	for _, name := range []string{"talos_reboot", "talos_apply_config"} {
		s.Run(name, func() {
			for _, tool := range (&Toolset{}).GetTools() {
				if tool.Tool.Name == name {
					s.Contains(tool.Tool.InputSchema.Required, "node")
				}
			}
		})
	}
}

func (s *MachineToolsSuite) TestVersion() {
	result, err := s.handler("talos_version")(s.params(nil))
	s.Require().NoError(err)
	s.Require().Nil(result.Error)
	s.Contains(result.Content, s.apid.Endpoint())
	s.Contains(result.Content, test.ApidVersionTag)
}

func (s *MachineToolsSuite) TestVersionJSONOutput() {
	params := s.params(nil)
	params.ListOutput = output.FromString("json")
	result, err := s.handler("talos_version")(params)
	s.Require().NoError(err)
	s.Require().Nil(result.Error)
	s.Contains(result.Content, fmt.Sprintf("%q", test.ApidVersionTag))
}

func (s *MachineToolsSuite) TestListContainers() {
	result, err := s.handler("talos_list_containers")(s.params(map[string]any{"namespace": "system"}))
	s.Require().NoError(err)
	s.Require().Nil(result.Error)
	s.Contains(result.Content, "kube-apiserver")
	s.Contains(result.Content, "system")
}

func (s *MachineToolsSuite) TestListContainersRejectsUnknownDriver() {
	result, err := s.handler("talos_list_containers")(s.params(map[string]any{"driver": "docker"}))
	s.Require().NoError(err)
	s.Require().Error(result.Error)
	s.True(talos.IsCode(result.Error, talos.ErrorCodeInvalidArgument))
}

func (s *MachineToolsSuite) TestSystemStats() {
	result, err := s.handler("talos_system_stats")(s.params(nil))
	s.Require().NoError(err)
	s.Require().Nil(result.Error)
	s.Contains(result.Content, "load1: 0.42")
}

func (s *MachineToolsSuite) TestListServices() {
	result, err := s.handler("talos_list_services")(s.params(nil))
	s.Require().NoError(err)
	s.Require().Nil(result.Error)
	s.Contains(result.Content, "etcd")
	s.Contains(result.Content, "kubelet")
}

func (s *MachineToolsSuite) TestServiceLogs() {
	result, err := s.handler("talos_service_logs")(s.params(map[string]any{"service": "etcd", "tail_lines": float64(10)}))
	s.Require().NoError(err)
	s.Require().Nil(result.Error)
	s.Contains(result.Content, "service started")
}

func (s *MachineToolsSuite) TestServiceLogsRequiresService() {
	result, err := s.handler("talos_service_logs")(s.params(nil))
	s.Require().NoError(err)
	s.Require().Error(result.Error)
}

func (s *MachineToolsSuite) TestReboot() {
	result, err := s.handler("talos_reboot")(s.params(map[string]any{"node": s.apid.Endpoint()}))
	s.Require().NoError(err)
	s.Require().Nil(result.Error)
	s.Contains(result.Content, "actorId")
	s.Equal(1, s.apid.CallCount("Reboot"))
}

func (s *MachineToolsSuite) TestRebootRequiresNode() {
	result, err := s.handler("talos_reboot")(s.params(nil))
	s.Require().NoError(err)
	s.Require().Error(result.Error)
	s.Zero(s.apid.CallCount("Reboot"))
}

func (s *MachineToolsSuite) TestApplyConfigDryRun() {
	document := "machine:\n  type: controlplane\n"
	result, err := s.handler("talos_apply_config")(s.params(map[string]any{
		"node":    s.apid.Endpoint(),
		"config":  document,
		"mode":    "no-reboot",
		"dry_run": true,
	}))
	s.Require().NoError(err)
	s.Require().Nil(result.Error)
	s.Contains(result.Content, "dry run")
}

func (s *MachineToolsSuite) TestApplyConfigRequiresConfig() {
	result, err := s.handler("talos_apply_config")(s.params(map[string]any{"node": s.apid.Endpoint()}))
	s.Require().NoError(err)
	s.Require().Error(result.Error)
	s.Zero(s.apid.CallCount("ApplyConfiguration"))
}

func (s *MachineToolsSuite) TestKubeconfig() {
	result, err := s.handler("talos_kubeconfig")(s.params(nil))
	s.Require().NoError(err)
	s.Require().Nil(result.Error)
	s.Contains(result.Content, "admin@talos-test")
}

func (s *MachineToolsSuite) TestPerNodeErrorIsRendered() {
	s.apid.FailNext("Version", 5, codes.Internal)
	result, err := s.handler("talos_version")(s.params(nil))
	s.Require().NoError(err)
	s.Require().Error(result.Error)
	s.Contains(result.Content, "code: REMOTE_OPERATION")
}

func TestMachineToolsSuite(t *testing.T) {
	suite.Run(t, new(MachineToolsSuite))
}
