package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/storage/types"
)

// HOST-RESOURCES-MIB objects read by SNMPProbe.
const (
	oidProcessorLoad = ".1.3.6.1.2.1.25.3.3.1.2"
	oidStorageType   = ".1.3.6.1.2.1.25.2.3.1.2"
	oidStorageSize   = ".1.3.6.1.2.1.25.2.3.1.5"
	oidStorageUsed   = ".1.3.6.1.2.1.25.2.3.1.6"
	oidStorageRAM    = ".1.3.6.1.2.1.25.2.1.2"
)

// =============================================================================
// SNMP Configuration
// =============================================================================

// SNMPConfig addresses one SNMP agent.
type SNMPConfig struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`

	// v2c
	Community string `yaml:"community"`

	// v3
	SecurityName  string `yaml:"security_name"`
	SecurityLevel string `yaml:"security_level"`
	AuthProtocol  string `yaml:"auth_protocol"`
	AuthPassword  string `yaml:"auth_password"`
	PrivProtocol  string `yaml:"priv_protocol"`
	PrivPassword  string `yaml:"priv_password"`
	ContextName   string `yaml:"context_name"`

	// Timing
	TimeoutMs uint32 `yaml:"timeout_ms"`
	Retries   uint32 `yaml:"retries"`
}

// Validate checks that the agent is addressable and authenticated.
func (c SNMPConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.NewMissingField("probe.snmp.host")
	}
	if c.SecurityName == "" && c.Community == "" {
		return errors.NewInvalidConfig("probe.snmp.community",
			"SNMP v2c requires community string (refusing to use insecure default)")
	}
	return nil
}

// =============================================================================
// SNMP Probe
// =============================================================================

// snmpClient is the part of gosnmp.GoSNMP the probe uses.
type snmpClient interface {
	Connect() error
	BulkWalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

type goSNMPClient struct {
	*gosnmp.GoSNMP
}

func (c goSNMPClient) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// SNMPProbe reads utilization from a remote agent. CPU is the mean
// hrProcessorLoad across processors; memory is hrStorageUsed/hrStorageSize
// of the hrStorageRam entry. Each Collect opens its own session.
type SNMPProbe struct {
	cfg       SNMPConfig
	now       types.Clock
	newClient func(ctx context.Context) snmpClient
}

// NewSNMPProbe creates a probe for the agent in cfg. A nil clock means the
// wall clock.
func NewSNMPProbe(cfg SNMPConfig, clock types.Clock) *SNMPProbe {
	p := &SNMPProbe{cfg: cfg, now: clock.OrWall()}
	p.newClient = func(ctx context.Context) snmpClient {
		return goSNMPClient{createClient(ctx, p.cfg)}
	}
	return p
}

// Name implements Probe.
func (p *SNMPProbe) Name() string { return KindSNMP + ":" + p.cfg.Host }

// Collect implements Probe.
func (p *SNMPProbe) Collect(ctx context.Context) (types.Snapshot, error) {
	if err := p.cfg.Validate(); err != nil {
		return types.Snapshot{}, err
	}

	client := p.newClient(ctx)
	if err := client.Connect(); err != nil {
		return types.Snapshot{}, fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	if err := ctx.Err(); err != nil {
		return types.Snapshot{}, err
	}

	loads, err := client.BulkWalkAll(oidProcessorLoad)
	if err != nil {
		return types.Snapshot{}, p.wrap("walk hrProcessorLoad", err)
	}
	cpuPct, err := meanProcessorLoad(loads)
	if err != nil {
		return types.Snapshot{}, err
	}

	storage, err := client.BulkWalkAll(oidStorageType)
	if err != nil {
		return types.Snapshot{}, p.wrap("walk hrStorageType", err)
	}
	idx, err := ramIndex(storage)
	if err != nil {
		return types.Snapshot{}, err
	}
	pkt, err := client.Get([]string{oidStorageSize + "." + idx, oidStorageUsed + "." + idx})
	if err != nil {
		return types.Snapshot{}, p.wrap("get hrStorage", err)
	}
	memPct, err := storagePercent(pkt.Variables)
	if err != nil {
		return types.Snapshot{}, err
	}

	return types.NewSnapshot(p.now(), clampPercent(cpuPct), clampPercent(memPct))
}

func (p *SNMPProbe) wrap(op string, err error) error {
	if isTimeoutError(err) {
		log.Debug("snmp timeout", "host", p.cfg.Host, "op", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// =============================================================================
// HOST-RESOURCES-MIB decoding
// =============================================================================

func meanProcessorLoad(pdus []gosnmp.SnmpPDU) (float64, error) {
	var sum float64
	n := 0
	for _, v := range pdus {
		if v.Type != gosnmp.Integer {
			continue
		}
		sum += float64(gosnmp.ToBigInt(v.Value).Int64())
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("no hrProcessorLoad entries returned")
	}
	return sum / float64(n), nil
}

// ramIndex returns the hrStorageIndex whose type is hrStorageRam.
func ramIndex(pdus []gosnmp.SnmpPDU) (string, error) {
	for _, v := range pdus {
		if v.Type != gosnmp.ObjectIdentifier {
			continue
		}
		oid, ok := v.Value.(string)
		if !ok || normalizeOID(oid) != oidStorageRAM {
			continue
		}
		i := strings.LastIndexByte(v.Name, '.')
		if i < 0 || i == len(v.Name)-1 {
			continue
		}
		return v.Name[i+1:], nil
	}
	return "", fmt.Errorf("no hrStorageRam entry returned")
}

func storagePercent(vars []gosnmp.SnmpPDU) (float64, error) {
	var size, used float64
	var haveSize, haveUsed bool
	for _, v := range vars {
		switch v.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
			return 0, fmt.Errorf("OID not found: %s", v.Name)
		}
		val := float64(gosnmp.ToBigInt(v.Value).Int64())
		switch name := normalizeOID(v.Name); {
		case strings.HasPrefix(name, oidStorageSize+"."):
			size, haveSize = val, true
		case strings.HasPrefix(name, oidStorageUsed+"."):
			used, haveUsed = val, true
		}
	}
	if !haveSize || !haveUsed {
		return 0, fmt.Errorf("hrStorage size/used missing from response")
	}
	if size <= 0 {
		return 0, fmt.Errorf("hrStorageSize is %v", size)
	}
	return used / size * 100, nil
}

func normalizeOID(oid string) string {
	if strings.HasPrefix(oid, ".") {
		return oid
	}
	return "." + oid
}

// =============================================================================
// SNMP Client Creation
// =============================================================================

func createClient(ctx context.Context, cfg SNMPConfig) *gosnmp.GoSNMP {
	port := cfg.Port
	if port == 0 {
		port = config.DefaultSNMPPort
	}

	timeout := cfg.TimeoutMs
	if timeout == 0 {
		timeout = config.DefaultSNMPTimeoutMs
	}

	retries := cfg.Retries
	if retries == 0 {
		retries = config.DefaultSNMPRetries
	}

	snmp := &gosnmp.GoSNMP{
		Target:         cfg.Host,
		Port:           port,
		Timeout:        time.Duration(timeout) * time.Millisecond,
		Retries:        int(retries),
		Context:        ctx,
		MaxRepetitions: 32,
	}

	// Configure version based on presence of security name
	if cfg.SecurityName != "" {
		snmp.Version = gosnmp.Version3
		snmp.SecurityModel = gosnmp.UserSecurityModel
		snmp.MsgFlags = msgFlags(cfg.SecurityLevel)
		snmp.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 cfg.SecurityName,
			AuthenticationProtocol:   authProtocol(cfg.AuthProtocol),
			AuthenticationPassphrase: cfg.AuthPassword,
			PrivacyProtocol:          privProtocol(cfg.PrivProtocol),
			PrivacyPassphrase:        cfg.PrivPassword,
		}
		if cfg.ContextName != "" {
			snmp.ContextName = cfg.ContextName
		}
	} else {
		snmp.Version = gosnmp.Version2c
		snmp.Community = cfg.Community
	}

	return snmp
}

// =============================================================================
// SNMPv3 Protocol Helpers
// =============================================================================

func msgFlags(level string) gosnmp.SnmpV3MsgFlags {
	switch level {
	case "authNoPriv":
		return gosnmp.AuthNoPriv
	case "authPriv":
		return gosnmp.AuthPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func authProtocol(protocol string) gosnmp.SnmpV3AuthProtocol {
	switch protocol {
	case "MD5":
		return gosnmp.MD5
	case "SHA":
		return gosnmp.SHA
	case "SHA224":
		return gosnmp.SHA224
	case "SHA256":
		return gosnmp.SHA256
	case "SHA384":
		return gosnmp.SHA384
	case "SHA512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func privProtocol(protocol string) gosnmp.SnmpV3PrivProtocol {
	switch protocol {
	case "DES":
		return gosnmp.DES
	case "AES":
		return gosnmp.AES
	case "AES192":
		return gosnmp.AES192
	case "AES256":
		return gosnmp.AES256
	default:
		return gosnmp.NoPriv
	}
}

// gosnmp reports timeouts as plain errors.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "request timeout") ||
		errors.Is(err, context.DeadlineExceeded)
}
