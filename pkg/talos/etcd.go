package talos

import (
	"context"

	"github.com/siderolabs/talos/pkg/machinery/api/machine"
	"google.golang.org/protobuf/types/known/emptypb"
)

// EtcdMemberStatus is the payload of the etcd-status operation for one
// node: the health of that node's own etcd member.
type EtcdMemberStatus struct {
	MemberID         uint64   `json:"memberId"`
	ProtocolVersion  string   `json:"protocolVersion,omitempty"`
	DBSize           int64    `json:"dbSize"`
	DBSizeInUse      int64    `json:"dbSizeInUse"`
	Leader           uint64   `json:"leader"`
	RaftIndex        uint64   `json:"raftIndex"`
	RaftTerm         uint64   `json:"raftTerm"`
	RaftAppliedIndex uint64   `json:"raftAppliedIndex"`
	IsLearner        bool     `json:"isLearner,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

// EtcdMember describes one member of the etcd cluster.
type EtcdMember struct {
	ID         uint64   `json:"id"`
	Hostname   string   `json:"hostname"`
	PeerURLs   []string `json:"peerUrls,omitempty"`
	ClientURLs []string `json:"clientUrls,omitempty"`
	IsLearner  bool     `json:"isLearner,omitempty"`
}

func buildEtcdStatusCall(Args) (callFunc, *Error) {
	return func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error) {
		resp, err := cli.EtcdStatus(ctx, &emptypb.Empty{})
		if err != nil {
			return nil, err
		}
		status := EtcdMemberStatus{}
		if len(resp.Messages) > 0 {
			msg := resp.Messages[0]
			if err := nodeError(msg.Metadata); err != nil {
				return nil, err
			}
			if member := msg.MemberStatus; member != nil {
				status.MemberID = member.MemberId
				status.ProtocolVersion = member.ProtocolVersion
				status.DBSize = member.DbSize
				status.DBSizeInUse = member.DbSizeInUse
				status.Leader = member.Leader
				status.RaftIndex = member.RaftIndex
				status.RaftTerm = member.RaftTerm
				status.RaftAppliedIndex = member.RaftAppliedIndex
				status.IsLearner = member.IsLearner
				status.Errors = member.Errors
			}
		}
		return status, nil
	}, nil
}

func buildEtcdMembersCall(args Args) (callFunc, *Error) {
	queryLocal, argErr := args.boolOr("query_local", false)
	if argErr != nil {
		return nil, argErr
	}

	return func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error) {
		resp, err := cli.EtcdMemberList(ctx, &machine.EtcdMemberListRequest{QueryLocal: queryLocal})
		if err != nil {
			return nil, err
		}
		members := make([]EtcdMember, 0)
		for _, msg := range resp.Messages {
			if err := nodeError(msg.Metadata); err != nil {
				return nil, err
			}
			for _, m := range msg.Members {
				members = append(members, EtcdMember{
					ID:         m.Id,
					Hostname:   m.Hostname,
					PeerURLs:   m.PeerUrls,
					ClientURLs: m.ClientUrls,
					IsLearner:  m.IsLearner,
				})
			}
		}
		return members, nil
	}, nil
}
