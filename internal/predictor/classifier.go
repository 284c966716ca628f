package predictor

import (
	"github.com/google/btree"

	"countwatch/internal/model"
)

const classifierDegree = 16

type bucketStat struct {
	bucket int
	mean   float64
	count  int
}

func bucketLess(a, b bucketStat) bool {
	return a.bucket < b.bucket
}

// classifier maps buckets back to values: it keeps a moving average of the
// actual values that landed in each bucket, ordered by bucket index.
type classifier struct {
	alpha float64
	tree  *btree.BTreeG[bucketStat]
}

func newClassifier(alpha float64) *classifier {
	return &classifier{
		alpha: alpha,
		tree:  btree.NewG[bucketStat](classifierDegree, bucketLess),
	}
}

func (c *classifier) learn(bucket int, value float64) {
	stat, ok := c.tree.Get(bucketStat{bucket: bucket})
	if !ok {
		stat = bucketStat{bucket: bucket, mean: value}
	} else {
		stat.mean += c.alpha * (value - stat.mean)
	}
	stat.count++
	c.tree.ReplaceOrInsert(stat)
}

// value returns the mean actual value for bucket. Unknown buckets fall back to
// the nearest known bucket; ok is false only while nothing has been learned.
func (c *classifier) value(bucket int) (float64, bool) {
	if stat, ok := c.tree.Get(bucketStat{bucket: bucket}); ok {
		return stat.mean, true
	}
	var (
		above, below       bucketStat
		hasAbove, hasBelow bool
	)
	c.tree.AscendGreaterOrEqual(bucketStat{bucket: bucket}, func(s bucketStat) bool {
		above, hasAbove = s, true
		return false
	})
	c.tree.DescendLessOrEqual(bucketStat{bucket: bucket}, func(s bucketStat) bool {
		below, hasBelow = s, true
		return false
	})
	switch {
	case hasAbove && hasBelow:
		if above.bucket-bucket < bucket-below.bucket {
			return above.mean, true
		}
		return below.mean, true
	case hasAbove:
		return above.mean, true
	case hasBelow:
		return below.mean, true
	default:
		return 0, false
	}
}

func (c *classifier) snapshot() []model.BucketState {
	out := make([]model.BucketState, 0, c.tree.Len())
	c.tree.Ascend(func(s bucketStat) bool {
		out = append(out, model.BucketState{Bucket: s.bucket, Mean: s.mean, Count: s.count})
		return true
	})
	return out
}

func (c *classifier) restore(states []model.BucketState) {
	c.tree.Clear(false)
	for _, s := range states {
		c.tree.ReplaceOrInsert(bucketStat{bucket: s.Bucket, mean: s.Mean, count: s.Count})
	}
}
