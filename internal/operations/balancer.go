package operations

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// BalancerState holds the current balancer status.
type BalancerState struct {
	Mode       string
	InProgress bool
	Window     *BalancerWindow
}

// Enabled reports whether the balancer runs in full mode.
func (s *BalancerState) Enabled() bool {
	return s != nil && s.Mode == "full"
}

// BalancerWindow represents the active balancer time window.
type BalancerWindow struct {
	Start string
	Stop  string
}

// GetBalancerStatus returns the current balancer state, including the
// active window when one is configured.
func GetBalancerStatus(ctx context.Context, client *mongo.Client) (*BalancerState, error) {
	var result bson.M
	if err := client.Database("admin").RunCommand(ctx, bson.D{
		{Key: "balancerStatus", Value: 1},
	}).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "balancerStatus")
	}

	state := &BalancerState{}
	if mode, ok := result["mode"].(string); ok {
		state.Mode = mode
	}
	if inProgress, ok := result["inBalancerRound"].(bool); ok {
		state.InProgress = inProgress
	}

	window, err := GetBalancerWindow(ctx, client)
	if err == nil && window.Start != "" {
		state.Window = window
	}
	return state, nil
}

// GetBalancerWindow reads the current balancer active window. A missing
// settings document is an empty window.
func GetBalancerWindow(ctx context.Context, client *mongo.Client) (*BalancerWindow, error) {
	var doc bson.M
	err := client.Database("config").Collection("settings").FindOne(ctx, bson.M{"_id": "balancer"}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &BalancerWindow{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read balancer settings")
	}

	window := &BalancerWindow{}
	if aw, ok := doc["activeWindow"].(bson.M); ok {
		if start, ok := aw["start"].(string); ok {
			window.Start = start
		}
		if stop, ok := aw["stop"].(string); ok {
			window.Stop = stop
		}
	}
	return window, nil
}
