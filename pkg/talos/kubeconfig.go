package talos

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/siderolabs/talos/pkg/machinery/api/machine"
	"google.golang.org/protobuf/types/known/emptypb"
	"k8s.io/client-go/tools/clientcmd"
)

// KubeconfigInfo is the payload of the kubeconfig operation: the admin
// kubeconfig retrieved from a control plane node plus a validated summary.
type KubeconfigInfo struct {
	Kubeconfig     string `json:"kubeconfig"`
	CurrentContext string `json:"currentContext,omitempty"`
	Server         string `json:"server,omitempty"`
}

func buildKubeconfigCall(Args) (callFunc, *Error) {
	return func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error) {
		stream, err := cli.Kubeconfig(ctx, &emptypb.Empty{})
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		for {
			data, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			if err := nodeError(data.Metadata); err != nil {
				return nil, err
			}
			buf.Write(data.Bytes)
		}

		kubeconfig, err := extractKubeconfig(buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("failed to extract kubeconfig from reply: %w", err)
		}

		info := KubeconfigInfo{Kubeconfig: string(kubeconfig)}
		// Validate the document before handing it to the caller; a reply
		// that does not parse as a kubeconfig is a remote-side defect.
		parsed, err := clientcmd.Load(kubeconfig)
		if err != nil {
			return nil, &Error{Code: ErrorCodeRemoteOperation, Message: fmt.Sprintf("node returned an invalid kubeconfig: %v", err)}
		}
		info.CurrentContext = parsed.CurrentContext
		if kubeContext, ok := parsed.Contexts[parsed.CurrentContext]; ok {
			if cluster, ok := parsed.Clusters[kubeContext.Cluster]; ok {
				info.Server = cluster.Server
			}
		}
		return info, nil
	}, nil
}

// extractKubeconfig unpacks the node's reply. apid ships the kubeconfig as
// a gzipped tar archive; older plain replies are passed through as-is.
func extractKubeconfig(raw []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return raw, nil
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		contents, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		return contents, nil
	}
	return nil, fmt.Errorf("archive contains no kubeconfig entry")
}
