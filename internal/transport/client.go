package transport

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client bundles the clients of a running daemon.
type Client struct {
	conn    *grpc.ClientConn
	Health  healthpb.HealthClient
	Control ControlClient
}

func Dial(port int) (*Client, error) {
	cc, err := grpc.NewClient(fmt.Sprintf("localhost:%d", port),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:    cc,
		Health:  healthpb.NewHealthClient(cc),
		Control: NewControlClient(cc),
	}, nil
}

func (c *Client) Close() error { return c.conn.Close() }
