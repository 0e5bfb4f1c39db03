package ovn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ovn-org/libovsdb/cache"
	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"
	"go.uber.org/zap"
)

// PortBindingOp describes what happened to a Port_Binding row.
type PortBindingOp int

const (
	PortBindingAdded PortBindingOp = iota
	PortBindingUpdated
	PortBindingDeleted
)

// PortBindingEvent is delivered for every Port_Binding row change observed
// through the monitor. Old is nil for adds, New is nil for deletes.
type PortBindingEvent struct {
	Op  PortBindingOp
	Old *PortBinding
	New *PortBinding
}

// PortBindingHandler consumes Port_Binding row changes.
type PortBindingHandler func(event PortBindingEvent)

// Client is the OVN Southbound database client. It maintains a replicated
// cache of the monitored tables and dispatches row-change events.
type Client struct {
	logger   *zap.Logger
	endpoint string
	timeout  time.Duration

	mu       sync.RWMutex
	c        client.Client
	handlers []PortBindingHandler
}

// NewClient creates a southbound client for the given OVSDB endpoint
// (e.g. "tcp:127.0.0.1:6642" or "unix:/var/run/ovn/ovnsb_db.sock").
func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{
		logger:   logger,
		endpoint: endpoint,
		timeout:  timeout,
	}
}

// OnPortBinding registers a handler for Port_Binding changes. Handlers must
// be registered before Connect.
func (c *Client) OnPortBinding(handler PortBindingHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect dials the southbound database, starts the monitor on the agent's
// table set and begins event dispatch.
func (c *Client) Connect(ctx context.Context) error {
	dbModel, err := SBModel()
	if err != nil {
		return fmt.Errorf("failed to build southbound model: %w", err)
	}

	ovsdbClient, err := client.NewOVSDBClient(
		dbModel,
		client.WithEndpoint(c.endpoint),
		client.WithReconnect(c.timeout, backoff.NewExponentialBackOff()),
	)
	if err != nil {
		return fmt.Errorf("failed to create southbound client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := ovsdbClient.Connect(connectCtx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}

	ovsdbClient.Cache().AddEventHandler(&cache.EventHandlerFuncs{
		AddFunc: func(table string, m model.Model) {
			if pb, ok := m.(*PortBinding); ok {
				c.dispatch(PortBindingEvent{Op: PortBindingAdded, New: pb})
			}
		},
		UpdateFunc: func(table string, oldModel, newModel model.Model) {
			oldPB, okOld := oldModel.(*PortBinding)
			newPB, okNew := newModel.(*PortBinding)
			if okOld && okNew {
				c.dispatch(PortBindingEvent{Op: PortBindingUpdated, Old: oldPB, New: newPB})
			}
		},
		DeleteFunc: func(table string, m model.Model) {
			if pb, ok := m.(*PortBinding); ok {
				c.dispatch(PortBindingEvent{Op: PortBindingDeleted, Old: pb})
			}
		},
	})

	if _, err := ovsdbClient.Monitor(ctx,
		ovsdbClient.NewMonitor(
			client.WithTable(&PortBinding{}),
			client.WithTable(&DatapathBinding{}),
			client.WithTable(&Chassis{}),
			client.WithTable(&ChassisPrivate{}),
			client.WithTable(&LoadBalancer{}),
		),
	); err != nil {
		ovsdbClient.Disconnect()
		return fmt.Errorf("failed to monitor southbound tables: %w", err)
	}

	c.mu.Lock()
	c.c = ovsdbClient
	c.mu.Unlock()

	c.logger.Info("connected to ovn southbound", zap.String("endpoint", c.endpoint))
	return nil
}

// Close disconnects from the database.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.c != nil {
		c.c.Disconnect()
		c.c = nil
	}
}

func (c *Client) dispatch(event PortBindingEvent) {
	c.mu.RLock()
	handlers := c.handlers
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (c *Client) client() (client.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.c == nil {
		return nil, ErrNotConnected
	}
	return c.c, nil
}

// ListPortBindings returns all Port_Binding rows in the cache.
func (c *Client) ListPortBindings(ctx context.Context) ([]*PortBinding, error) {
	cli, err := c.client()
	if err != nil {
		return nil, err
	}

	var rows []*PortBinding
	if err := cli.List(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to list port bindings: %w", err)
	}
	return rows, nil
}

// ListEvpnPortBindings returns the Port_Binding rows carrying both the VNI
// and the AS external_ids keys.
func (c *Client) ListEvpnPortBindings(ctx context.Context) ([]*PortBinding, error) {
	rows, err := c.ListPortBindings(ctx)
	if err != nil {
		return nil, err
	}

	var evpn []*PortBinding
	for _, row := range rows {
		if row.HasEvpnConfig() {
			evpn = append(evpn, row)
		}
	}
	return evpn, nil
}

// PortBindingsByDatapath returns all Port_Binding rows on the datapath.
func (c *Client) PortBindingsByDatapath(ctx context.Context, datapath string) ([]*PortBinding, error) {
	rows, err := c.ListPortBindings(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*PortBinding
	for _, row := range rows {
		if row.Datapath == datapath {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

// NetworkNameAndTag resolves the provider network name and VLAN tag of a
// datapath from its localnet port, scoped to the given bridge mappings.
func (c *Client) NetworkNameAndTag(ctx context.Context, datapath string, bridgeMappings map[string]string) (string, *int, error) {
	rows, err := c.PortBindingsByDatapath(ctx, datapath)
	if err != nil {
		return "", nil, err
	}

	for _, row := range rows {
		if row.Type != PortTypeLocalnet {
			continue
		}
		networkName := row.Options["network_name"]
		if networkName == "" {
			continue
		}
		if _, ok := bridgeMappings[networkName]; !ok {
			continue
		}
		return networkName, row.Tag, nil
	}
	return "", nil, nil
}

// DatapathByUUID fetches a Datapath_Binding row from the cache.
func (c *Client) DatapathByUUID(ctx context.Context, uuid string) (*DatapathBinding, error) {
	cli, err := c.client()
	if err != nil {
		return nil, err
	}

	dp := &DatapathBinding{UUID: uuid}
	if err := cli.Get(ctx, dp); err != nil {
		return nil, fmt.Errorf("datapath %s: %w", uuid, ErrDatapathNotFound)
	}
	return dp, nil
}

// ChassisNameByUUID resolves a Chassis row UUID to its name.
func (c *Client) ChassisNameByUUID(ctx context.Context, uuid string) (string, error) {
	cli, err := c.client()
	if err != nil {
		return "", err
	}

	chassis := &Chassis{UUID: uuid}
	if err := cli.Get(ctx, chassis); err != nil {
		return "", fmt.Errorf("failed to look up chassis %s: %w", uuid, err)
	}
	return chassis.Name, nil
}
