package transvec

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fortytw2/leaktest"
)

func TestConfigVerify(t *testing.T) {
	defer leaktest.Check(t)()

	testCases := []struct {
		c   Config
		err string
	}{
		{
			c:   DefaultConfig,
			err: "",
		},
		{
			c: Config{
				SegSize:          0,
				FirstBucketSize:  8,
				HelpSpinLimit:    1,
				MaxDeltaCount:    1,
				ReclaimQueueSize: 1,
			},
			err: "SegSize",
		},
		{
			c: Config{
				SegSize:          3,
				FirstBucketSize:  8,
				HelpSpinLimit:    1,
				MaxDeltaCount:    1,
				ReclaimQueueSize: 1,
			},
			err: "SegSize",
		},
		{
			c: Config{
				SegSize:          16,
				FirstBucketSize:  0,
				HelpSpinLimit:    1,
				MaxDeltaCount:    1,
				ReclaimQueueSize: 1,
			},
			err: "FirstBucketSize",
		},
		{
			c: Config{
				SegSize:          16,
				FirstBucketSize:  8,
				HelpSpinLimit:    0,
				MaxDeltaCount:    1,
				ReclaimQueueSize: 1,
			},
			err: "HelpSpinLimit",
		},
		{
			c: Config{
				SegSize:          16,
				FirstBucketSize:  8,
				HelpSpinLimit:    1,
				MaxDeltaCount:    0,
				ReclaimQueueSize: 1,
			},
			err: "MaxDeltaCount",
		},
		{
			c: Config{
				SegSize:          16,
				FirstBucketSize:  8,
				HelpSpinLimit:    1,
				MaxDeltaCount:    1,
				ReclaimQueueSize: 0,
			},
			err: "ReclaimQueueSize",
		},
	}
	for i, tc := range testCases {
		if err := tc.c.Verify(); !strings.Contains(fmt.Sprintf("%s", err), tc.err) {
			t.Errorf("%d: %+v.Verify() = %+v; expected %q", i, tc.c, err, tc.err)
		}
	}
}

func TestNewBadConfig(t *testing.T) {
	defer leaktest.Check(t)()

	c := &Config{}
	if _, err := New(0, c); err == nil {
		t.Fatalf("expected New(0, %+v) to throw an error", c)
	}
}

func TestNewNilConfigUsesDefault(t *testing.T) {
	defer leaktest.Check(t)()

	tv, err := New(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tv.Close()

	if tv.config != DefaultConfig {
		t.Errorf("tv.config = %+v; not %+v", tv.config, DefaultConfig)
	}
}
