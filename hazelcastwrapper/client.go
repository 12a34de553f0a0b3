package hazelcastwrapper

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/hazelcast/hazelcast-go-client"
	log "github.com/sirupsen/logrus"
	"hazeltopo/client"
	"hazeltopo/logging"
)

type (
	HzClientInitializer interface {
		InitHazelcastClient(ctx context.Context, clientName string, hzCluster string, hzMembers []string) error
	}
	HzClientCloser interface {
		Shutdown(ctx context.Context) error
	}
	HzClientHandler interface {
		GetClient() *hazelcast.Client
		HzClientInitializer
		HzClientCloser
	}
	DefaultHzClientHandler struct {
		hzClient *hazelcast.Client
		view     *MembershipView
	}
	HzClientAssembler struct {
		clientID uuid.UUID
		lp       *logging.LogProvider
	}
)

var lp *logging.LogProvider

func init() {
	lp = &logging.LogProvider{ClientID: client.ID()}
}

func NewDefaultHzClientHandler(view *MembershipView) *DefaultHzClientHandler {
	return &DefaultHzClientHandler{view: view}
}

func (ch *DefaultHzClientHandler) InitHazelcastClient(ctx context.Context, clientName string, hzCluster string, hzMembers []string) error {

	hzClient, err := NewHzClientHelper().Assemble(ctx, clientName, hzCluster, hzMembers, ch.view)
	if err != nil {
		return err
	}

	ch.hzClient = hzClient
	return nil

}

func (ch *DefaultHzClientHandler) Shutdown(ctx context.Context) error {

	if ch.hzClient == nil {
		return nil
	}

	return ch.hzClient.Shutdown(ctx)

}

func (ch *DefaultHzClientHandler) GetClient() *hazelcast.Client {
	return ch.hzClient
}

func NewHzClientHelper() HzClientAssembler {
	return HzClientAssembler{client.ID(), &logging.LogProvider{ClientID: client.ID()}}
}

// Assemble starts a client whose membership listener is registered before connecting, so the view also learns
// about the members that were already present at connect time.
func (h HzClientAssembler) Assemble(ctx context.Context, clientName string, hzCluster string, hzMembers []string, view *MembershipView) (*hazelcast.Client, error) {

	hzConfig := &hazelcast.Config{}
	hzConfig.ClientName = fmt.Sprintf("%s-%s", h.clientID, clientName)
	hzConfig.Cluster.Name = hzCluster

	if useUnisocket, ok := client.RetrieveArgValue(client.ArgUseUniSocketClient).(bool); ok {
		hzConfig.Cluster.Unisocket = useUnisocket
	}

	if view != nil {
		hzConfig.AddMembershipListener(view.handle)
	}

	h.lp.LogHzEvent(fmt.Sprintf("hazelcast client config: %+v", hzConfig), log.InfoLevel)

	hzConfig.Cluster.Network.SetAddresses(hzMembers...)

	hzClient, err := hazelcast.StartNewClientWithConfig(ctx, *hzConfig)
	if err != nil {
		h.lp.LogHzEvent(fmt.Sprintf("unable to initialize hazelcast client: %s", err), log.ErrorLevel)
		return nil, err
	}

	return hzClient, nil

}
