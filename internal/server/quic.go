package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/remixsync/remixsync/internal/core/mirror"
	"github.com/remixsync/remixsync/internal/core/observability/log"
)

func (srv *Server) serveQUIC(ctx context.Context) error {
	tlsConf, err := generateInMemoryTLSConfig()
	if err != nil {
		return fmt.Errorf("generate TLS config: %w", err)
	}

	listener, err := quic.ListenAddr(srv.config.quicAddr(), tlsConf, nil)
	if err != nil {
		return fmt.Errorf("listen quic %s: %w", srv.config.quicAddr(), err)
	}
	srv.setQUICListener(listener)
	srv.logger.Info("quic listener up", log.String("addr", srv.config.quicAddr()))

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("accept quic connection: %w", err)
		}
		go srv.handleQUICConn(ctx, conn)
	}
}

type quicSession struct {
	writeMu sync.Mutex
	enc     *json.Encoder

	mu     sync.Mutex
	subIDs []string
}

func (s *quicSession) send(f mirror.Frame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.enc.Encode(f)
}

func (srv *Server) handleQUICConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		srv.logger.Warn("accept quic stream", log.String("remote", remote), log.Error(err))
		_ = conn.CloseWithError(1, "no control stream")
		return
	}
	srv.logger.Info("sync connection opened", log.String("remote", remote))

	session := &quicSession{enc: json.NewEncoder(stream)}
	defer func() {
		srv.store.Drop(session.tracked())
		_ = conn.CloseWithError(0, "session ended")
		srv.logger.Info("sync connection closed", log.String("remote", remote))
	}()

	dec := json.NewDecoder(stream)
	for {
		var f mirror.Frame
		if err := dec.Decode(&f); err != nil {
			return
		}
		if f.Op == mirror.OpSubscribe {
			session.mu.Lock()
			session.subIDs = append(session.subIDs, f.SubID)
			session.mu.Unlock()
		}
		if err := srv.store.Handle(f, session.send); err != nil {
			srv.logger.Warn("frame rejected",
				log.String("remote", remote),
				log.String("op", f.Op),
				log.Error(err))
		}
	}
}

func (s *quicSession) tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.subIDs))
	copy(out, s.subIDs)
	return out
}

// generateInMemoryTLSConfig builds a self-signed certificate for the
// development QUIC listener.
func generateInMemoryTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"remixsync"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{mirror.QUICProtocol},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
