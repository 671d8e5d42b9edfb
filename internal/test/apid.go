package test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/siderolabs/talos/pkg/machinery/api/common"
	"github.com/siderolabs/talos/pkg/machinery/api/machine"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	// ApidVersionTag is the Talos version the fake apid reports.
	ApidVersionTag = "v1.10.0"

	kubeconfigYAML = `apiVersion: v1
kind: Config
current-context: admin@talos-test
clusters:
  - name: talos-test
    cluster:
      server: https://10.5.0.2:6443
contexts:
  - name: admin@talos-test
    context:
      cluster: talos-test
      user: admin
users:
  - name: admin
    user:
      token: not-a-real-token
`
)

// Apid is an in-process fake of the Talos node gRPC endpoint, serving
// MachineService over mTLS. It records per-method call counts and can be
// told to fail the next N calls of a method with a given gRPC code, which
// is how transport-fault and retry behavior is exercised.
type Apid struct {
	machine.UnimplementedMachineServiceServer

	NodeHostname string

	listener net.Listener
	server   *grpc.Server

	mu        sync.Mutex
	calls     map[string]int
	failures  map[string]int
	failCodes map[string]codes.Code
	stalls    map[string]int
}

// StartApid starts a fake apid on a loopback address and shuts it down
// with the test.
func StartApid(t *testing.T, material *TLSMaterial) *Apid {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen for fake apid: %v", err)
	}

	a := &Apid{
		NodeHostname: "talos-test-node",
		listener:  listener,
		calls:     make(map[string]int),
		failures:  make(map[string]int),
		failCodes: make(map[string]codes.Code),
		stalls:    make(map[string]int),
	}
	a.server = grpc.NewServer(grpc.Creds(credentials.NewTLS(material.ServerTLSConfig())))
	machine.RegisterMachineServiceServer(a.server, a)
	go func() { _ = a.server.Serve(listener) }()
	t.Cleanup(a.Stop)
	return a
}

// Endpoint returns the host:port the fake apid listens on.
func (a *Apid) Endpoint() string {
	return a.listener.Addr().String()
}

// Stop shuts the server down immediately.
func (a *Apid) Stop() {
	a.server.Stop()
}

// FailNext makes the next n calls of method fail with the given code.
func (a *Apid) FailNext(method string, n int, code codes.Code) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[method] = n
	a.failCodes[method] = code
}

// StallNext makes the next n calls of method block until the caller's
// deadline expires instead of answering.
func (a *Apid) StallNext(method string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stalls[method] = n
}

// CallCount returns how many times method was invoked, including failed
// and stalled invocations.
func (a *Apid) CallCount(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[method]
}

// TotalCalls returns the number of invocations across all methods.
func (a *Apid) TotalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, n := range a.calls {
		total += n
	}
	return total
}

// enter records the call and returns a non-nil error when the method is
// set up to fail or stall.
func (a *Apid) enter(ctx context.Context, method string) error {
	a.mu.Lock()
	a.calls[method]++
	if a.failures[method] > 0 {
		a.failures[method]--
		code := a.failCodes[method]
		a.mu.Unlock()
		return status.Error(code, "injected failure")
	}
	stalled := a.stalls[method] > 0
	if stalled {
		a.stalls[method]--
	}
	a.mu.Unlock()
	if stalled {
		<-ctx.Done()
		return status.FromContextError(ctx.Err()).Err()
	}
	return nil
}

func (a *Apid) metadata() *common.Metadata {
	return &common.Metadata{Hostname: a.NodeHostname}
}

func (a *Apid) Version(ctx context.Context, _ *emptypb.Empty) (*machine.VersionResponse, error) {
	if err := a.enter(ctx, "Version"); err != nil {
		return nil, err
	}
	return &machine.VersionResponse{Messages: []*machine.Version{{
		Metadata: a.metadata(),
		Version: &machine.VersionInfo{
			Tag:       ApidVersionTag,
			Sha:       "0000000",
			GoVersion: "go1.24",
			Os:        "linux",
			Arch:      "amd64",
		},
		Platform: &machine.PlatformInfo{Name: "metal", Mode: "metal"},
	}}}, nil
}

func (a *Apid) Containers(ctx context.Context, req *machine.ContainersRequest) (*machine.ContainersResponse, error) {
	if err := a.enter(ctx, "Containers"); err != nil {
		return nil, err
	}
	return &machine.ContainersResponse{Messages: []*machine.Container{{
		Metadata: a.metadata(),
		Containers: []*machine.ContainerInfo{
			{Namespace: req.Namespace, Id: "kube-apiserver", Image: "registry.k8s.io/kube-apiserver:v1.32.0", Pid: 4242, Status: "RUNNING", PodId: "kube-system/kube-apiserver", Name: "kube-apiserver"},
			{Namespace: req.Namespace, Id: "etcd", Image: "gcr.io/etcd-development/etcd:v3.5.16", Pid: 4243, Status: "RUNNING", PodId: "kube-system/etcd", Name: "etcd"},
		},
	}}}, nil
}

func (a *Apid) SystemStat(ctx context.Context, _ *emptypb.Empty) (*machine.SystemStatResponse, error) {
	if err := a.enter(ctx, "SystemStat"); err != nil {
		return nil, err
	}
	return &machine.SystemStatResponse{Messages: []*machine.SystemStat{{
		Metadata:        a.metadata(),
		BootTime:        uint64(time.Now().Add(-time.Hour).Unix()),
		CpuTotal:        &machine.CPUStat{User: 100.5, System: 42.1, Idle: 10000.0, Iowait: 3.3},
		ContextSwitches: 123456,
		ProcessCreated:  2048,
		ProcessRunning:  3,
		ProcessBlocked:  0,
	}}}, nil
}

func (a *Apid) LoadAvg(ctx context.Context, _ *emptypb.Empty) (*machine.LoadAvgResponse, error) {
	if err := a.enter(ctx, "LoadAvg"); err != nil {
		return nil, err
	}
	return &machine.LoadAvgResponse{Messages: []*machine.LoadAvg{{
		Metadata: a.metadata(),
		Load1:    0.42,
		Load5:    0.33,
		Load15:   0.25,
	}}}, nil
}

func (a *Apid) Memory(ctx context.Context, _ *emptypb.Empty) (*machine.MemoryResponse, error) {
	if err := a.enter(ctx, "Memory"); err != nil {
		return nil, err
	}
	return &machine.MemoryResponse{Messages: []*machine.Memory{{
		Metadata: a.metadata(),
		Meminfo: &machine.MemInfo{
			Memtotal:     16 * 1024 * 1024,
			Memfree:      8 * 1024 * 1024,
			Memavailable: 12 * 1024 * 1024,
			Cached:       2 * 1024 * 1024,
			Swaptotal:    0,
			Swapfree:     0,
		},
	}}}, nil
}

func (a *Apid) ServiceList(ctx context.Context, _ *emptypb.Empty) (*machine.ServiceListResponse, error) {
	if err := a.enter(ctx, "ServiceList"); err != nil {
		return nil, err
	}
	return &machine.ServiceListResponse{Messages: []*machine.ServiceList{{
		Metadata: a.metadata(),
		Services: []*machine.ServiceInfo{
			{Id: "apid", State: "Running", Health: &machine.ServiceHealth{Healthy: true, LastChange: timestamppb.Now()}},
			{Id: "etcd", State: "Running", Health: &machine.ServiceHealth{Healthy: true, LastChange: timestamppb.Now()}},
			{Id: "kubelet", State: "Running", Health: &machine.ServiceHealth{Unknown: true}},
		},
	}}}, nil
}

func (a *Apid) Logs(req *machine.LogsRequest, stream machine.MachineService_LogsServer) error {
	if err := a.enter(stream.Context(), "Logs"); err != nil {
		return err
	}
	lines := []string{
		"level=info msg=\"service started\" service=" + req.Id,
		"level=info msg=\"health check passed\" service=" + req.Id,
	}
	for _, line := range lines {
		if err := stream.Send(&common.Data{Metadata: a.metadata(), Bytes: []byte(line + "\n")}); err != nil {
			return err
		}
	}
	if req.Follow {
		// Keep the stream open the way a follow does; rely on the client
		// to cancel or time out.
		<-stream.Context().Done()
	}
	return nil
}

func (a *Apid) Reboot(ctx context.Context, req *machine.RebootRequest) (*machine.RebootResponse, error) {
	if err := a.enter(ctx, "Reboot"); err != nil {
		return nil, err
	}
	_ = req
	return &machine.RebootResponse{Messages: []*machine.Reboot{{
		Metadata: a.metadata(),
		ActorId:  "00000000-feed-face-0000-000000000000",
	}}}, nil
}

func (a *Apid) ApplyConfiguration(ctx context.Context, req *machine.ApplyConfigurationRequest) (*machine.ApplyConfigurationResponse, error) {
	if err := a.enter(ctx, "ApplyConfiguration"); err != nil {
		return nil, err
	}
	if len(req.Data) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty machine configuration")
	}
	mode := "applied without a reboot"
	if req.DryRun {
		mode = "dry run: no changes applied"
	}
	return &machine.ApplyConfigurationResponse{Messages: []*machine.ApplyConfiguration{{
		Metadata:    a.metadata(),
		ModeDetails: mode,
	}}}, nil
}

func (a *Apid) Kubeconfig(_ *emptypb.Empty, stream machine.MachineService_KubeconfigServer) error {
	if err := a.enter(stream.Context(), "Kubeconfig"); err != nil {
		return err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	contents := []byte(kubeconfigYAML)
	if err := tw.WriteHeader(&tar.Header{Name: "kubeconfig", Mode: 0o600, Size: int64(len(contents)), Typeflag: tar.TypeReg}); err != nil {
		return err
	}
	if _, err := tw.Write(contents); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return stream.Send(&common.Data{Metadata: a.metadata(), Bytes: buf.Bytes()})
}

func (a *Apid) EtcdStatus(ctx context.Context, _ *emptypb.Empty) (*machine.EtcdStatusResponse, error) {
	if err := a.enter(ctx, "EtcdStatus"); err != nil {
		return nil, err
	}
	return &machine.EtcdStatusResponse{Messages: []*machine.EtcdStatus{{
		Metadata: a.metadata(),
		MemberStatus: &machine.EtcdMemberStatus{
			MemberId:         0xdeadbeef,
			ProtocolVersion:  "3.5.16",
			DbSize:           20 * 1024 * 1024,
			DbSizeInUse:      15 * 1024 * 1024,
			Leader:           0xdeadbeef,
			RaftIndex:        1000,
			RaftTerm:         4,
			RaftAppliedIndex: 1000,
		},
	}}}, nil
}

func (a *Apid) EtcdMemberList(ctx context.Context, req *machine.EtcdMemberListRequest) (*machine.EtcdMemberListResponse, error) {
	if err := a.enter(ctx, "EtcdMemberList"); err != nil {
		return nil, err
	}
	_ = req
	return &machine.EtcdMemberListResponse{Messages: []*machine.EtcdMembers{{
		Metadata: a.metadata(),
		Members: []*machine.EtcdMember{{
			Id:         0xdeadbeef,
			Hostname:   a.NodeHostname,
			PeerUrls:   []string{"https://10.5.0.2:2380"},
			ClientUrls: []string{"https://10.5.0.2:2379"},
		}},
	}}}, nil
}
