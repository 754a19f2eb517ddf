package sim

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"federated-traffic-rl/internal/junction"
	"federated-traffic-rl/internal/mask"
	"federated-traffic-rl/internal/wire"
)

// BridgeClient drives an external traffic micro-simulator over a stream
// socket with framed msgpack request/response pairs. The bridge owns
// the physics and topology; this client only asks questions and issues
// phase commands.
type BridgeClient struct {
	mu     sync.Mutex
	conn   net.Conn
	dims   junction.Dims
	descs  map[string]junction.Descriptor
	log    zerolog.Logger
	closed bool
}

type bridgeRequest struct {
	Endpoint string         `msgpack:"endpoint"`
	Params   map[string]any `msgpack:"params,omitempty"`
}

type junctionResponse struct {
	JunctionID    string      `msgpack:"junction_id"`
	IncomingRoads []string    `msgpack:"incoming_roads"`
	ActionToPhase map[int]int `msgpack:"action_to_phase"`
}

type stateResponse struct {
	Roads []mask.RoadMeasurement `msgpack:"roads"`
}

type rewardResponse struct {
	Reward float64 `msgpack:"reward"`
}

type remainingResponse struct {
	Remaining bool `msgpack:"remaining"`
}

type ackResponse struct {
	OK    bool   `msgpack:"ok"`
	Error string `msgpack:"error,omitempty"`
}

// DialBridge connects to the simulator bridge.
func DialBridge(network, addr string, log zerolog.Logger) (*BridgeClient, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("sim: dial bridge %s: %w", addr, err)
	}
	return &BridgeClient{
		conn:  conn,
		descs: make(map[string]junction.Descriptor),
		log:   log.With().Str("component", "sim_bridge").Logger(),
	}, nil
}

// Configure sets the universal dimensions used to encode bridge
// measurements. Must be called before GetState.
func (c *BridgeClient) Configure(dims junction.Dims) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dims = dims
}

// Junction fetches a junction's descriptor from the bridge: incoming
// roads in discovery order and the action-to-green-phase table.
func (c *BridgeClient) Junction(id string) (junction.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp junctionResponse
	err := c.roundTrip(bridgeRequest{
		Endpoint: "junction",
		Params:   map[string]any{"junction_id": id},
	}, &resp)
	if err != nil {
		return junction.Descriptor{}, err
	}
	desc := junction.Descriptor{
		ID:            resp.JunctionID,
		IncomingRoads: resp.IncomingRoads,
		ActionToPhase: resp.ActionToPhase,
	}
	c.descs[desc.ID] = desc
	return desc, nil
}

func (c *BridgeClient) GetState(junctionID string) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.descs[junctionID]; !ok {
		return nil, ErrUnknownJunction
	}
	var resp stateResponse
	err := c.roundTrip(bridgeRequest{
		Endpoint: "get_state",
		Params:   map[string]any{"junction_id": junctionID},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return mask.EncodeState(c.dims, resp.Roads), nil
}

func (c *BridgeClient) SetPhase(junctionID string, action, yellowTime, greenTime int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	desc, ok := c.descs[junctionID]
	if !ok {
		return ErrUnknownJunction
	}
	phase, ok := mask.DecodeAction(desc, action)
	if !ok {
		// Padded or unmapped action: hold the current phase but still
		// advance time so the step has uniform duration.
		phase = -1
	}
	var resp ackResponse
	err := c.roundTrip(bridgeRequest{
		Endpoint: "set_phase",
		Params: map[string]any{
			"junction_id": junctionID,
			"phase":       phase,
			"yellow_time": yellowTime,
			"green_time":  greenTime,
		},
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("sim: set_phase rejected: %s", resp.Error)
	}
	return nil
}

func (c *BridgeClient) GetReward(junctionID string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.descs[junctionID]; !ok {
		return 0, ErrUnknownJunction
	}
	var resp rewardResponse
	err := c.roundTrip(bridgeRequest{
		Endpoint: "get_reward",
		Params:   map[string]any{"junction_id": junctionID},
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Reward, nil
}

func (c *BridgeClient) HasRemainingEntities() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp remainingResponse
	if err := c.roundTrip(bridgeRequest{Endpoint: "remaining"}, &resp); err != nil {
		return false, err
	}
	return resp.Remaining, nil
}

func (c *BridgeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if err := wire.WriteMsg(c.conn, bridgeRequest{Endpoint: "stop"}); err != nil {
		c.log.Warn().Err(err).Msg("stop request failed")
	}
	return c.conn.Close()
}

func (c *BridgeClient) roundTrip(req bridgeRequest, resp any) error {
	if c.closed {
		return ErrClosed
	}
	if err := wire.WriteMsg(c.conn, req); err != nil {
		return fmt.Errorf("sim: %s request: %w", req.Endpoint, err)
	}
	if err := wire.ReadMsg(c.conn, resp); err != nil {
		return fmt.Errorf("sim: %s response: %w", req.Endpoint, err)
	}
	return nil
}
