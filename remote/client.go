// Package remote drives a liquid-handling gantry over Modbus TCP.
package remote

import (
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/timzifer/artbot/config"
)

// Client defines the subset of Modbus operations required by the gantry driver.
type Client interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
	Close() error
}

// ClientFactory is responsible for creating Modbus clients for the gantry.
type ClientFactory func(cfg config.ModbusConfig) (Client, error)

// DefaultTimeout bounds a single Modbus request.
const DefaultTimeout = 5 * time.Second

type tcpClient struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewTCPClientFactory returns a factory that creates TCP Modbus clients.
func NewTCPClientFactory() ClientFactory {
	return func(cfg config.ModbusConfig) (Client, error) {
		if cfg.Address == "" {
			return nil, fmt.Errorf("modbus address is required")
		}
		handler := modbus.NewTCPClientHandler(cfg.Address)
		handler.SlaveId = cfg.UnitID
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		handler.Timeout = timeout
		if err := handler.Connect(); err != nil {
			return nil, fmt.Errorf("connect gantry %s: %w", cfg.Address, err)
		}
		return &tcpClient{handler: handler, client: modbus.NewClient(handler)}, nil
	}
}

func (c *tcpClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return c.client.ReadHoldingRegisters(address, quantity)
}

func (c *tcpClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	return c.client.WriteSingleRegister(address, value)
}

func (c *tcpClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	return c.client.WriteMultipleRegisters(address, quantity, value)
}

func (c *tcpClient) Close() error {
	if c.handler != nil {
		return c.handler.Close()
	}
	return nil
}
