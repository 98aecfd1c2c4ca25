package ami

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/config"
	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/telephony"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

// Provider speaks the AMI command/response protocol to an on-premise PBX.
// Actions are correlated to the internal call id through the CALLID channel
// variable.
type Provider struct {
	cfg config.AMIConfig

	mu       sync.Mutex
	conn     net.Conn
	reader   *bufio.Reader
	actionID int
}

// NewProvider constructs the PBX adapter. The connection is established
// lazily on first use and re-established after transport errors.
func NewProvider(cfg config.AMIConfig) *Provider {
	return &Provider{cfg: cfg}
}

// Name identifies the adapter.
func (p *Provider) Name() domain.ProviderKind {
	return domain.ProviderAMI
}

// Originate issues an Originate action dialing the given number.
func (p *Provider) Originate(ctx context.Context, callID uuid.UUID, phoneNumber string) (telephony.Handle, error) {
	fields := [][2]string{
		{"Action", "Originate"},
		{"Channel", "SIP/" + phoneNumber},
		{"Context", p.dialContext()},
		{"Exten", phoneNumber},
		{"Priority", "1"},
		{"Timeout", strconv.FormatInt(p.cfg.DialTimeout.Milliseconds(), 10)},
		{"Variable", "CALLID=" + callID.String()},
		{"Variable", "PHONENUMBER=" + phoneNumber},
	}

	resp, err := p.roundTrip(ctx, fields)
	if err != nil {
		return telephony.Handle{}, err
	}
	if resp["Response"] != "Success" {
		return telephony.Handle{}, fmt.Errorf("%w: %s", apperrors.ErrOriginationFailed, resp["Message"])
	}

	// The PBX reports no separate id for originations; the correlation
	// variable carries ours back on every event.
	return telephony.Handle{Provider: domain.ProviderAMI, ExternalID: callID.String()}, nil
}

// Hangup issues a Hangup action for the call's channel.
func (p *Provider) Hangup(ctx context.Context, handle telephony.Handle) error {
	fields := [][2]string{
		{"Action", "Hangup"},
		{"Channel", handle.ExternalID},
	}

	resp, err := p.roundTrip(ctx, fields)
	if err != nil {
		return err
	}
	if resp["Response"] != "Success" {
		return fmt.Errorf("ami: hangup rejected: %s", resp["Message"])
	}
	return nil
}

// Status issues a Status action and maps the PBX channel state.
func (p *Provider) Status(ctx context.Context, handle telephony.Handle) (telephony.State, error) {
	fields := [][2]string{
		{"Action", "Status"},
		{"Channel", handle.ExternalID},
	}

	resp, err := p.roundTrip(ctx, fields)
	if err != nil {
		return telephony.StateUnknown, err
	}

	switch resp["ChannelStateDesc"] {
	case "Ringing", "Ring":
		return telephony.StateRinging, nil
	case "Up":
		return telephony.StateUp, nil
	case "Down":
		return telephony.StateDown, nil
	default:
		return telephony.StateUnknown, nil
	}
}

// Close tears down the manager connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		p.reader = nil
		return err
	}
	return nil
}

func (p *Provider) dialContext() string {
	if p.cfg.DialContext != "" {
		return p.cfg.DialContext
	}
	return "followup"
}

// roundTrip sends one action and reads its response block, serialized so
// concurrent callers do not interleave on the wire.
func (p *Provider) roundTrip(ctx context.Context, fields [][2]string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnLocked(ctx); err != nil {
		return nil, err
	}

	p.actionID++
	fields = append(fields, [2]string{"ActionID", strconv.Itoa(p.actionID)})

	if deadline, ok := ctx.Deadline(); ok {
		_ = p.conn.SetDeadline(deadline)
	}

	if _, err := p.conn.Write([]byte(EncodeAction(fields))); err != nil {
		p.dropConnLocked()
		return nil, fmt.Errorf("%w: write: %v", apperrors.ErrProviderUnavailable, err)
	}

	resp, err := readBlock(p.reader)
	if err != nil {
		p.dropConnLocked()
		return nil, fmt.Errorf("%w: read: %v", apperrors.ErrProviderUnavailable, err)
	}
	return resp, nil
}

func (p *Provider) ensureConnLocked(ctx context.Context) error {
	if p.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", apperrors.ErrProviderUnavailable, addr, err)
	}

	reader := bufio.NewReader(conn)

	// Banner line, e.g. "Asterisk Call Manager/5.0".
	if _, err := reader.ReadString('\n'); err != nil {
		conn.Close()
		return fmt.Errorf("%w: banner: %v", apperrors.ErrProviderUnavailable, err)
	}

	login := [][2]string{
		{"Action", "Login"},
		{"Username", p.cfg.Username},
		{"Secret", p.cfg.Secret},
	}
	if _, err := conn.Write([]byte(EncodeAction(login))); err != nil {
		conn.Close()
		return fmt.Errorf("%w: login write: %v", apperrors.ErrProviderUnavailable, err)
	}

	resp, err := readBlock(reader)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: login read: %v", apperrors.ErrProviderUnavailable, err)
	}
	if resp["Response"] != "Success" {
		conn.Close()
		return fmt.Errorf("%w: login rejected: %s", apperrors.ErrProviderUnavailable, resp["Message"])
	}

	p.conn = conn
	p.reader = reader
	return nil
}

func (p *Provider) dropConnLocked() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.reader = nil
	}
}

// EncodeAction serializes an action as CRLF-separated key: value pairs
// terminated by a blank line. Field order is preserved; repeated keys
// (Variable) are allowed.
func EncodeAction(fields [][2]string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f[0])
		b.WriteString(": ")
		b.WriteString(f[1])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

// readBlock reads one blank-line-terminated response block into a map.
func readBlock(r *bufio.Reader) (map[string]string, error) {
	block := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(block) == 0 {
				continue
			}
			return block, nil
		}
		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		block[key] = value
	}
}
