package corefact

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeKV is an in-memory clientv3.KV supporting the ranges, revision
// comparisons and transactions the etcd backend issues.
type fakeKV struct {
	mu   sync.Mutex
	rev  int64
	data map[string]*mvccpb.KeyValue

	// beforeCommit runs once per transaction, outside the lock, before the
	// guard is evaluated.
	beforeCommit func()
}

func newFakeKV() *fakeKV {
	return &fakeKV{rev: 1, data: make(map[string]*mvccpb.KeyValue)}
}

func (f *fakeKV) header() *pb.ResponseHeader {
	return &pb.ResponseHeader{Revision: f.rev}
}

func inRange(key, start, end []byte) bool {
	if len(end) == 0 {
		return bytes.Equal(key, start)
	}
	return bytes.Compare(key, start) >= 0 && bytes.Compare(key, end) < 0
}

func (f *fakeKV) rangeLocked(op clientv3.Op) *pb.RangeResponse {
	var kvs []*mvccpb.KeyValue
	for _, kv := range f.data {
		if inRange(kv.Key, op.KeyBytes(), op.RangeBytes()) {
			c := *kv
			kvs = append(kvs, &c)
		}
	}
	sort.Slice(kvs, func(i, j int) bool { return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0 })

	resp := &pb.RangeResponse{Header: f.header(), Count: int64(len(kvs))}
	if !op.IsCountOnly() {
		resp.Kvs = kvs
	}
	return resp
}

func (f *fakeKV) putLocked(key, val []byte) {
	f.rev++
	kv, ok := f.data[string(key)]
	if !ok {
		kv = &mvccpb.KeyValue{Key: append([]byte(nil), key...), CreateRevision: f.rev}
		f.data[string(key)] = kv
	}
	kv.Value = append([]byte(nil), val...)
	kv.ModRevision = f.rev
	kv.Version++
}

func (f *fakeKV) deleteLocked(op clientv3.Op) int64 {
	var n int64
	for k, kv := range f.data {
		if inRange(kv.Key, op.KeyBytes(), op.RangeBytes()) {
			delete(f.data, k)
			n++
		}
	}
	if n > 0 {
		f.rev++
	}
	return n
}

func (f *fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLocked([]byte(key), []byte(val))
	return &clientv3.PutResponse{Header: f.header()}, nil
}

func (f *fakeKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*clientv3.GetResponse)(f.rangeLocked(clientv3.OpGet(key, opts...))), nil
}

func (f *fakeKV) Delete(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.deleteLocked(clientv3.OpDelete(key, opts...))
	return &clientv3.DeleteResponse{Header: f.header(), Deleted: n}, nil
}

func (f *fakeKV) Compact(context.Context, int64, ...clientv3.CompactOption) (*clientv3.CompactResponse, error) {
	return nil, errors.New("fakeKV: compact not supported")
}

func (f *fakeKV) Do(context.Context, clientv3.Op) (clientv3.OpResponse, error) {
	return clientv3.OpResponse{}, errors.New("fakeKV: do not supported")
}

func (f *fakeKV) Txn(context.Context) clientv3.Txn {
	return &fakeTxn{kv: f}
}

type fakeTxn struct {
	kv   *fakeKV
	cmps []clientv3.Cmp
	then []clientv3.Op
	els  []clientv3.Op
}

func (t *fakeTxn) If(cs ...clientv3.Cmp) clientv3.Txn   { t.cmps = append(t.cmps, cs...); return t }
func (t *fakeTxn) Then(ops ...clientv3.Op) clientv3.Txn { t.then = append(t.then, ops...); return t }
func (t *fakeTxn) Else(ops ...clientv3.Op) clientv3.Txn { t.els = append(t.els, ops...); return t }

func (t *fakeTxn) Commit() (*clientv3.TxnResponse, error) {
	if hook := t.kv.beforeCommit; hook != nil {
		hook()
	}

	f := t.kv
	f.mu.Lock()
	defer f.mu.Unlock()

	ok := true
	for _, c := range t.cmps {
		if !f.compareLocked(c) {
			ok = false
			break
		}
	}

	ops := t.then
	if !ok {
		ops = t.els
	}

	resp := &clientv3.TxnResponse{Succeeded: ok}
	for _, op := range ops {
		switch {
		case op.IsPut():
			f.putLocked(op.KeyBytes(), op.ValueBytes())
			resp.Responses = append(resp.Responses, &pb.ResponseOp{
				Response: &pb.ResponseOp_ResponsePut{ResponsePut: &pb.PutResponse{Header: f.header()}},
			})
		case op.IsDelete():
			n := f.deleteLocked(op)
			resp.Responses = append(resp.Responses, &pb.ResponseOp{
				Response: &pb.ResponseOp_ResponseDeleteRange{ResponseDeleteRange: &pb.DeleteRangeResponse{Header: f.header(), Deleted: n}},
			})
		case op.IsGet():
			resp.Responses = append(resp.Responses, &pb.ResponseOp{
				Response: &pb.ResponseOp_ResponseRange{ResponseRange: f.rangeLocked(op)},
			})
		}
	}
	resp.Header = f.header()
	return resp, nil
}

func (f *fakeKV) compareLocked(c clientv3.Cmp) bool {
	mod, ok := c.TargetUnion.(*pb.Compare_ModRevision)
	if !ok || c.Target != pb.Compare_MOD {
		return false
	}

	var revs []int64
	for _, kv := range f.data {
		if inRange(kv.Key, c.Key, c.RangeEnd) {
			revs = append(revs, kv.ModRevision)
		}
	}
	if len(revs) == 0 {
		revs = []int64{0}
	}

	for _, r := range revs {
		var hold bool
		switch c.Result {
		case pb.Compare_LESS:
			hold = r < mod.ModRevision
		case pb.Compare_GREATER:
			hold = r > mod.ModRevision
		case pb.Compare_EQUAL:
			hold = r == mod.ModRevision
		case pb.Compare_NOT_EQUAL:
			hold = r != mod.ModRevision
		}
		if !hold {
			return false
		}
	}
	return true
}

var _ clientv3.KV = (*fakeKV)(nil)
