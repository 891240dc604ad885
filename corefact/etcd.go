package corefact

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdConfig configures an etcd connection for the core fact tier.
type EtcdConfig struct {
	// Endpoints is the list of etcd endpoints.
	// Format: ["host1:2379", "host2:2379"]
	Endpoints []string

	// DialTimeout bounds connection establishment. Default: 5s.
	DialTimeout time.Duration

	// TLS enables mutual TLS when set.
	TLS *EtcdTLS
}

// EtcdTLS holds the certificate files for a TLS connection.
type EtcdTLS struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// NewEtcdClient connects to etcd and verifies the connection with a read.
func NewEtcdClient(cfg EtcdConfig) (*clientv3.Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: timeout,
	}

	if cfg.TLS != nil {
		tlsConfig, err := cfg.TLS.clientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := cli.Get(ctx, "health-check"); err != nil {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return cli, nil
}

func (t *EtcdTLS) clientConfig() (*tls.Config, error) {
	if t.CertFile == "" || t.KeyFile == "" || t.CAFile == "" {
		return nil, fmt.Errorf("cert, key and CA files are required")
	}

	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caData, err := os.ReadFile(t.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// EtcdBackend stores every leaf as one key under /<namespace>/core/.
// Mutations commit only if no key under the prefix changed since the
// snapshot they were computed from.
type EtcdBackend struct {
	kv     clientv3.KV
	prefix string
}

// NewEtcdBackend creates a backend over kv. A *clientv3.Client is a KV.
func NewEtcdBackend(kv clientv3.KV, namespace string) *EtcdBackend {
	namespace = strings.Trim(namespace, "/")
	if namespace == "" {
		namespace = "tiermem"
	}
	return &EtcdBackend{kv: kv, prefix: "/" + namespace + "/core/"}
}

// Load returns every leaf whose key starts with prefix.
func (b *EtcdBackend) Load(ctx context.Context, prefix string) (map[string]Leaf, error) {
	resp, err := b.kv.Get(ctx, b.prefix+prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	return b.decode(resp)
}

// Apply runs m against a snapshot and commits with a revision guard.
func (b *EtcdBackend) Apply(ctx context.Context, m Mutation) error {
	for i := 0; i < maxTxAttempts; i++ {
		resp, err := b.kv.Get(ctx, b.prefix, clientv3.WithPrefix())
		if err != nil {
			return fmt.Errorf("load facts: %w", err)
		}
		current, err := b.decode(resp)
		if err != nil {
			return err
		}

		del, put, err := m(current)
		if err != nil {
			return err
		}
		if len(del) == 0 && len(put) == 0 {
			return nil
		}

		ops := make([]clientv3.Op, 0, len(del)+len(put))
		for _, k := range del {
			ops = append(ops, clientv3.OpDelete(b.prefix+k))
		}
		for k, leaf := range put {
			data, err := json.Marshal(leaf)
			if err != nil {
				return err
			}
			ops = append(ops, clientv3.OpPut(b.prefix+k, string(data)))
		}

		guard := clientv3.Compare(clientv3.ModRevision(b.prefix), "<", resp.Header.Revision+1).WithPrefix()
		txn, err := b.kv.Txn(ctx).If(guard).Then(ops...).Commit()
		if err != nil {
			return fmt.Errorf("apply facts: %w", err)
		}
		if txn.Succeeded {
			return nil
		}
		if err := conflictBackoff(ctx, i); err != nil {
			return fmt.Errorf("apply facts: %w", err)
		}
	}
	return ErrConflict
}

// Count returns the number of leaves.
func (b *EtcdBackend) Count(ctx context.Context) (int, error) {
	resp, err := b.kv.Get(ctx, b.prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return int(resp.Count), nil
}

func (b *EtcdBackend) decode(resp *clientv3.GetResponse) (map[string]Leaf, error) {
	out := make(map[string]Leaf, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		key := strings.TrimPrefix(string(kv.Key), b.prefix)
		var leaf Leaf
		if err := json.Unmarshal(kv.Value, &leaf); err != nil {
			return nil, fmt.Errorf("decode fact %q: %w", key, err)
		}
		out[key] = leaf
	}
	return out, nil
}

var _ Backend = (*EtcdBackend)(nil)
