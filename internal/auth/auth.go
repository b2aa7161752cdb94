package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	loggerpkg "AgentMarket-Chain/pkg/logger"
)

// Header names accepted by the token check.
const (
	TokenHeader     = "X-Agent-Token"
	AgentNameHeader = "X-Agent-Name"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingToken = errors.New("missing agent token")
	ErrInvalidToken = errors.New("invalid agent token")
)

// Mode 表示认证是否启用。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// Subject captures the caller identity passed to request handlers via context.
type Subject struct {
	// Name 取自 X-Agent-Name，未提供时为 anonymous。
	Name          string
	Authenticated bool
}

// Service 以共享令牌校验调用方。令牌为空时认证关闭，所有请求放行。
type Service struct {
	mode  Mode
	token []byte
	audit *slog.Logger
}

// NewService 构造认证服务。
func NewService(token string) *Service {
	token = strings.TrimSpace(token)
	s := &Service{mode: ModeDisabled, audit: loggerpkg.Audit()}
	if token != "" {
		s.mode = ModeToken
		s.token = []byte(token)
	}
	return s
}

// Mode 返回当前的认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Authenticate 校验请求头中的令牌，支持 X-Agent-Token 与 Bearer 两种形式。
func (s *Service) Authenticate(tokenHeader, authorization, agentName string) (*Subject, error) {
	subject := &Subject{Name: strings.TrimSpace(agentName)}
	if subject.Name == "" {
		subject.Name = "anonymous"
	}
	if s.Mode() == ModeDisabled {
		return subject, nil
	}

	presented := strings.TrimSpace(tokenHeader)
	if presented == "" {
		if scheme, value, ok := strings.Cut(strings.TrimSpace(authorization), " "); ok && strings.EqualFold(scheme, "Bearer") {
			presented = strings.TrimSpace(value)
		}
	}
	if presented == "" {
		return nil, ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(presented), s.token) != 1 {
		return nil, ErrInvalidToken
	}
	subject.Authenticated = true
	return subject, nil
}
