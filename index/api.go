package index

import (
	"github.com/hgl71964/cmu-15445-databases/buffer"
	"github.com/hgl71964/cmu-15445-databases/util"
	"go.uber.org/zap"
)

// BPlusTreeIndex is the byte-key facade executors use. Keys shorter than
// the index width are zero padded, longer ones truncated.
type BPlusTreeIndex struct {
	tree     *BPlusTree[GenericKey]
	keyWidth int
}

func NewBPlusTreeIndex(name string, keyWidth int, bpm *buffer.BufferpoolManager, leafMaxSize, internalMaxSize int, log *zap.Logger) (*BPlusTreeIndex, error) {
	tree, err := NewBPlusTree(name, bpm, GenericKeyCodec(keyWidth), leafMaxSize, internalMaxSize, log)
	if err != nil {
		return nil, err
	}

	return &BPlusTreeIndex{tree: tree, keyWidth: keyWidth}, nil
}

func (i *BPlusTreeIndex) Tree() *BPlusTree[GenericKey] {
	return i.tree
}

func (i *BPlusTreeIndex) KeyWidth() int {
	return i.keyWidth
}

func (i *BPlusTreeIndex) InsertEntry(key []byte, rid util.RID) (bool, error) {
	return i.tree.Insert(i.key(key), rid)
}

func (i *BPlusTreeIndex) DeleteEntry(key []byte) error {
	return i.tree.Remove(i.key(key))
}

// ScanKey returns the RIDs stored under key, at most one since keys are
// unique.
func (i *BPlusTreeIndex) ScanKey(key []byte) ([]util.RID, error) {
	rid, ok, err := i.tree.GetValue(i.key(key))
	if err != nil || !ok {
		return nil, err
	}

	return []util.RID{rid}, nil
}

// GetKeyRange returns the RIDs of keys in [start, stop] in key order.
func (i *BPlusTreeIndex) GetKeyRange(start, stop []byte) ([]util.RID, error) {
	stopKey := i.key(stop)

	indexIter, err := i.tree.BeginAt(i.key(start))
	if err != nil {
		return nil, err
	}
	defer indexIter.Close()

	res := []util.RID{}
	for !indexIter.IsEnd() {
		if i.tree.codec.Compare(indexIter.Key(), stopKey) > 0 {
			break
		}

		res = append(res, indexIter.Value())
		if err := indexIter.Next(); err != nil {
			return res, err
		}
	}

	return res, nil
}

func (i *BPlusTreeIndex) BatchInsert(items map[string]util.RID) error {
	for k, v := range items {
		if _, err := i.InsertEntry([]byte(k), v); err != nil {
			return err
		}
	}

	return nil
}

func (i *BPlusTreeIndex) key(data []byte) GenericKey {
	return NewGenericKey(i.keyWidth, data)
}
