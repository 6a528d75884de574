package lockdownd

import (
	"fmt"
	"strings"

	"github.com/apex/log"

	"github.com/mobiledevkit/ibridge/pkg/usb"
)

const lockdownPort = 62078

// Session is the connected, paired state for one device. It is created by
// NewSession and must be released with Close. Sessions are not reentrant:
// the device protocol gives no guarantees for two concurrent sessions on the
// same handle, so callers issuing concurrent requests for one device must
// serialize them themselves.
type Session struct {
	cli       *usb.Client
	sessionID string
}

type validatePairRequest struct {
	Label      string
	Request    string
	PairRecord *hostPairRecord `plist:"PairRecord"`
}

type hostPairRecord struct {
	DeviceCertificate []byte `plist:"DeviceCertificate,omitempty"`
	HostCertificate   []byte `plist:"HostCertificate,omitempty"`
	RootCertificate   []byte `plist:"RootCertificate,omitempty"`
	HostID            string `plist:"HostID"`
	SystemBUID        string `plist:"SystemBUID"`
}

type validatePairResponse struct {
	Request string
	Error   string `plist:"Error,omitempty"`
}

type startSessionRequest struct {
	Label           string
	ProtocolVersion string
	Request         string
	HostID          string
	SystemBUID      string
}

type startSessionResponse struct {
	Request          string
	Result           string
	Error            string `plist:"Error,omitempty"`
	EnableSessionSSL bool
	SessionID        string
}

// NewSession connects to lockdownd and brings the connection into session
// state: connect, check pairing, validate the pairing record, start the
// session. Any step failing leaves nothing behind for the caller to release.
func NewSession(udid string) (*Session, error) {
	cli, err := usb.NewClient(udid, lockdownPort)
	if err != nil {
		return nil, err
	}

	s, err := SessionFrom(cli)
	if err != nil {
		cli.Close()
		return nil, err
	}
	return s, nil
}

// SessionFrom runs pair validation and session start on an established
// lockdownd connection. The client must carry the host pair record.
func SessionFrom(cli *usb.Client) (*Session, error) {
	pair := cli.PairRecord()
	if pair == nil {
		return nil, usb.ErrPairingLost
	}

	vreq := &validatePairRequest{
		Label:   usb.BundleID,
		Request: "ValidatePair",
		PairRecord: &hostPairRecord{
			DeviceCertificate: pair.DeviceCertificate,
			HostCertificate:   pair.HostCertificate,
			RootCertificate:   pair.RootCertificate,
			HostID:            pair.HostID,
			SystemBUID:        pair.SystemBUID,
		},
	}
	var vresp validatePairResponse
	if err := cli.Request(vreq, &vresp); err != nil {
		return nil, fmt.Errorf("validate pairing: %w", err)
	}
	if vresp.Error != "" {
		return nil, fmt.Errorf("%w: %s", usb.ErrPairingInvalid, vresp.Error)
	}

	sreq := &startSessionRequest{
		Label:           usb.BundleID,
		ProtocolVersion: "2",
		Request:         "StartSession",
		HostID:          pair.HostID,
		SystemBUID:      pair.SystemBUID,
	}
	var sresp startSessionResponse
	if err := cli.Request(sreq, &sresp); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if sresp.Error != "" {
		return nil, &usb.ProtocolError{Request: "StartSession", Code: sresp.Error}
	}

	if sresp.EnableSessionSSL {
		if err := cli.EnableSSL(); err != nil {
			return nil, fmt.Errorf("failed to enable SSL for lockdown session: %v", err)
		}
	}

	return &Session{cli: cli, sessionID: sresp.SessionID}, nil
}

type stopSessionRequest struct {
	Label     string
	Request   string
	SessionID string
}

// Close stops the session and disconnects. Both steps are best-effort: a
// failure here is logged and swallowed so that release can never mask the
// error of the operation that used the session. Safe to call twice.
func (s *Session) Close() {
	if s.cli == nil {
		return
	}
	req := &stopSessionRequest{
		Label:     usb.BundleID,
		Request:   "StopSession",
		SessionID: s.sessionID,
	}
	var resp validatePairResponse
	if err := s.cli.Request(req, &resp); err != nil {
		log.WithError(err).Debug("error stopping lockdown session")
	}
	if err := s.cli.Close(); err != nil {
		log.WithError(err).Debug("error disconnecting from lockdownd")
	}
	s.cli = nil
}

type getValueRequest struct {
	Request string
	Label   string
	Domain  string `plist:"Domain,omitempty"`
	Key     string `plist:"Key,omitempty"`
}

type getValueResponse struct {
	Domain  string `plist:"Domain,omitempty"`
	Error   string `plist:"Error,omitempty"`
	Key     string `plist:"Key,omitempty"`
	Request string `plist:"Request,omitempty"`
	Value   any    `plist:"Value,omitempty"`
}

// GetValue reads one device property and decodes it into a typed Value.
// Reads on one session are strictly sequential, one round-trip at a time.
func (s *Session) GetValue(domain, key string) (Value, error) {
	req := &getValueRequest{
		Request: "GetValue",
		Label:   usb.BundleID,
		Domain:  domain,
		Key:     key,
	}
	var resp getValueResponse
	if err := s.cli.Request(req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &usb.ProtocolError{Request: "GetValue " + key, Code: resp.Error}
	}
	return Decode(resp.Value)
}

func (s *Session) getString(key string) (string, error) {
	v, err := s.GetValue("", key)
	if err != nil {
		return "", err
	}
	str, ok := v.(String)
	if !ok {
		return "", fmt.Errorf("%s: expected a string, got %T", key, v)
	}
	return string(str), nil
}

// DeviceName returns the user-visible device name.
func (s *Session) DeviceName() (string, error) {
	return s.getString("DeviceName")
}

// ProductVersion returns the dotted OS version ("13.4.1").
func (s *Session) ProductVersion() (string, error) {
	return s.getString("ProductVersion")
}

// CPUArchitecture returns the device CPU as a target triple arch tag.
// Anything arm64-flavored maps to "aarch64", everything older to "armv7".
func (s *Session) CPUArchitecture() (string, error) {
	arch, err := s.getString("CPUArchitecture")
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(arch, "arm64") {
		return "aarch64", nil
	}
	return "armv7", nil
}

type startServiceRequest struct {
	Label     string
	Request   string `plist:"Request"`
	Service   string
	EscrowBag []byte `plist:"EscrowBag,omitempty"`
}

type StartServiceResponse struct {
	Request          string
	Result           string
	Error            string `plist:"Error,omitempty"`
	Service          string
	Port             int
	EnableServiceSSL bool
}

// StartService asks the device to launch a lockdown service and returns the
// port it listens on.
func (s *Session) StartService(service string, withEscrowBag bool) (*StartServiceResponse, error) {
	req := &startServiceRequest{
		Label:   usb.BundleID,
		Request: "StartService",
		Service: service,
	}
	if withEscrowBag {
		req.EscrowBag = s.cli.PairRecord().EscrowBag
	}

	var resp StartServiceResponse
	if err := s.cli.Request(req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &usb.ProtocolError{Request: "StartService " + service, Code: resp.Error}
	}

	return &resp, nil
}

// NewClientForService opens a short-lived session, starts the named service
// and connects to it. The session itself is released before this returns;
// the caller owns only the service connection.
func NewClientForService(serviceName, udid string, withEscrowBag bool) (*usb.Client, error) {
	s, err := NewSession(udid)
	if err != nil {
		return nil, fmt.Errorf("failed to open lockdown session for service %s: %w", serviceName, err)
	}
	defer s.Close()

	svc, err := s.StartService(serviceName, withEscrowBag)
	if err != nil {
		return nil, fmt.Errorf("failed to start service %s: %w", serviceName, err)
	}

	cli, err := usb.NewClient(udid, svc.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to service %s on port %d: %w", serviceName, svc.Port, err)
	}

	if svc.EnableServiceSSL {
		if err := cli.EnableSSL(); err != nil {
			cli.Close()
			return nil, fmt.Errorf("failed to enable SSL for service %s: %v", serviceName, err)
		}
	}

	return cli, nil
}
