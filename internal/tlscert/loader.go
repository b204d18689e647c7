// Package tlscert implements a hot-reloading TLS certificate loader
// for the RTMPS listener, watching the cert/key files' mtimes on a
// fixed interval and swapping in the reloaded pair without dropping
// existing connections.
package tlscert

import (
	"crypto/tls"
	"os"
	"sync"
	"time"

	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
)

// Loader holds the current certificate and reloads it when the cert
// or key file's mtime changes.
type Loader struct {
	certPath string
	keyPath  string

	mu   sync.Mutex
	cert *tls.Certificate

	certModTime time.Time
	keyModTime  time.Time

	checkInterval time.Duration
}

// New loads certPath/keyPath once and returns a Loader ready for
// RunReloadLoop.
func New(certPath, keyPath string, checkInterval time.Duration) (*Loader, error) {
	statCert, err := os.Stat(certPath)
	if err != nil {
		return nil, err
	}
	statKey, err := os.Stat(keyPath)
	if err != nil {
		return nil, err
	}

	cer, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}

	return &Loader{
		certPath:      certPath,
		keyPath:       keyPath,
		cert:          &cer,
		certModTime:   statCert.ModTime(),
		keyModTime:    statKey.ModTime(),
		checkInterval: checkInterval,
	}, nil
}

// RunReloadLoop polls the cert/key files every checkInterval and
// reloads them on a modtime change. Intended to run in its own
// goroutine for the lifetime of the process.
func (l *Loader) RunReloadLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(l.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.checkAndReload()
		}
	}
}

func (l *Loader) checkAndReload() {
	statCert, err := os.Stat(l.certPath)
	if err != nil {
		rtmplog.Error(err)
		return
	}
	statKey, err := os.Stat(l.keyPath)
	if err != nil {
		rtmplog.Error(err)
		return
	}

	if statCert.ModTime().Equal(l.certModTime) && statKey.ModTime().Equal(l.keyModTime) {
		return
	}

	cer, err := tls.LoadX509KeyPair(l.certPath, l.keyPath)
	if err != nil {
		rtmplog.Error(err)
		return
	}

	l.mu.Lock()
	l.cert = &cer
	l.mu.Unlock()

	l.certModTime = statCert.ModTime()
	l.keyModTime = statKey.ModTime()
	rtmplog.Info("reloaded TLS certificate")
}

// GetCertificate is a tls.Config.GetCertificate callback returning
// the currently loaded certificate.
func (l *Loader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cert, nil
}
