package ml_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ollama/vqtok/ml"
	"github.com/ollama/vqtok/ml/backend/cpu"
)

func TestDump(t *testing.T) {
	ctx := cpu.NewContext(1)

	cases := []struct {
		name string
		t    ml.Tensor
		opts []ml.DumpOptions
		want string
	}{
		{
			name: "grid",
			t:    ctx.FromInts([]int32{1, 2, 3, 10, 11, 12}, 2, 3),
			want: "[[ 1,  2,  3],\n [10, 11, 12]]",
		},
		{
			name: "batch",
			t:    ctx.FromInts([]int32{1, 2, 3, 4}, 1, 2, 2),
			want: "[[[1, 2],\n  [3, 4]]]",
		},
		{
			name: "elided",
			t:    ctx.Arange(0, 10, 1, ml.DTypeI32),
			opts: []ml.DumpOptions{ml.DumpWithThreshold(4), ml.DumpWithEdgeItems(2)},
			want: "[0, 1, ..., 8, 9]",
		},
		{
			name: "floats",
			t:    ctx.FromFloats([]float32{.5, -1}, 2),
			opts: []ml.DumpOptions{ml.DumpWithPrecision(2)},
			want: "[ 0.50, -1.00]",
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(ml.Dump(ctx, tt.t, tt.opts...), tt.want); diff != "" {
				t.Errorf("dump mismatch (-got +want):\n%s", diff)
			}
		})
	}
}
