package main

import (
	"encoding"
	"strings"

	"github.com/spf13/pflag"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/workload"
)

// workloadFlags holds everything the command line can say about the workload.
type workloadFlags struct {
	workload.Flags

	totalLiveGB  float64
	totalAllocGB float64
	sizeDist     uint32
	file         string
}

// textValue adapts a text (un)marshaler to pflag.Value.
type textValue struct {
	v interface {
		encoding.TextMarshaler
		encoding.TextUnmarshaler
	}
	typ string
}

func (t textValue) String() string {
	b, _ := t.v.MarshalText()
	return string(b)
}

func (t textValue) Set(s string) error { return t.v.UnmarshalText([]byte(s)) }
func (t textValue) Type() string        { return t.typ }

type sizeRangeValue struct{ r *bucket.SizeRange }

func (v sizeRangeValue) String() string { return v.r.String() }
func (v sizeRangeValue) Type() string   { return "low-high" }

func (v sizeRangeValue) Set(s string) error {
	r, err := workload.ParseSizeRange(s)
	if err != nil {
		return err
	}
	*v.r = r
	return nil
}

// alias registers name2 as another spelling of the existing flag name.
func alias(fs *pflag.FlagSet, name, name2 string) {
	f := fs.Lookup(name)
	fs.AddFlag(&pflag.Flag{
		Name:        name2,
		Usage:       "alias for --" + name,
		Value:       f.Value,
		DefValue:    f.DefValue,
		NoOptDefVal: f.NoOptDefVal,
	})
}

func changed(fs *pflag.FlagSet, names ...string) bool {
	for _, n := range names {
		if fs.Changed(n) {
			return true
		}
	}
	return false
}

// register adds the workload flags, each with its short spelling.
func (w *workloadFlags) register(fs *pflag.FlagSet) {
	w.Flags = workload.DefaultFlags()
	f := &w.Flags

	fs.Var(textValue{&f.TestKind, "testKind"}, "testKind", "time or highSurvival")
	alias(fs, "testKind", "tk")
	fs.Var(textValue{&f.AllocType, "allocType"}, "allocType", "simple or reference")
	alias(fs, "allocType", "at")
	fs.Uint32Var(&f.ThreadCount, "threadCount", f.ThreadCount, "worker threads")
	alias(fs, "threadCount", "tc")

	fs.Uint32Var(&f.LargeAllocRatio, "lohAllocRatio", 0, "per mille of allocated bytes in the large region")
	alias(fs, "lohAllocRatio", "lohar")
	fs.Uint32Var(&f.PinnedAllocRatio, "pohAllocRatio", 0, "per mille of allocated bytes in the pinned region")
	alias(fs, "pohAllocRatio", "pohar")

	fs.Float64Var(&w.totalLiveGB, "totalLiveGB", 0, "bytes kept alive across all threads, in GB")
	alias(fs, "totalLiveGB", "tlgb")
	fs.Float64Var(&w.totalAllocGB, "totalAllocGB", 0, "bytes to allocate across all threads, in GB")
	alias(fs, "totalAllocGB", "tagb")
	fs.Float64Var(&f.RequestAllocMB, "requestAllocMB", 0, "allocation after which the request survivors are reset, in MB")
	alias(fs, "requestAllocMB", "ramb")
	fs.Float64Var(&f.RequestLiveMB, "requestLiveMB", 0, "bytes kept alive per request, in MB")
	alias(fs, "requestLiveMB", "rlmb")
	fs.Float64Var(&f.TotalMinutes, "totalMins", 0, "minutes to run")
	alias(fs, "totalMins", "tm")

	fs.Var(sizeRangeValue{&f.Ordinary.SizeRange}, "sohSizeRange", "ordinary object sizes")
	alias(fs, "sohSizeRange", "sohsr")
	fs.Var(sizeRangeValue{&f.Large.SizeRange}, "lohSizeRange", "large object sizes")
	alias(fs, "lohSizeRange", "lohsr")
	fs.Var(sizeRangeValue{&f.Pinned.SizeRange}, "pohSizeRange", "pinned object sizes")
	alias(fs, "pohSizeRange", "pohsr")
	fs.Uint32Var(&w.sizeDist, "sizeDistribution", 0, "1 to use the built-in size distributions")
	alias(fs, "sizeDistribution", "sizeDist")

	regions := []struct {
		prefix string
		r      *workload.RegionFlags
	}{{"soh", &f.Ordinary}, {"loh", &f.Large}, {"poh", &f.Pinned}}
	for _, reg := range regions {
		p := reg.prefix
		fs.Uint32Var(&reg.r.SurvInterval, p+"SurvInterval", reg.r.SurvInterval, "every nth object survives")
		alias(fs, p+"SurvInterval", p+"si")
		req := "req" + strings.ToUpper(p[:1]) + p[1:] + "SurvInterval"
		fs.Uint32Var(&reg.r.ReqSurvInterval, req, reg.r.ReqSurvInterval, "every nth object survives the request")
		alias(fs, req, "r"+p+"si")
		if p != "poh" {
			fs.Uint32Var(&reg.r.PinInterval, p+"PinningInterval", reg.r.PinInterval, "every nth survivor is pinned")
			alias(fs, p+"PinningInterval", p+"pi")
		}
		fs.Uint32Var(&reg.r.FinalizableInterval, p+"FinalizableInterval", reg.r.FinalizableInterval, "every nth survivor is finalizable")
		alias(fs, p+"FinalizableInterval", p+"fi")
	}

	fs.Uint32VarP(&f.Compute, "compute", "c", 0, "random draws burned after each allocation")
	fs.BoolVar(&f.VerifyLiveSize, "verifyLiveSize", false, "check survivor sizes after every change")
	fs.Uint32Var(&f.PrintEveryNthIter, "printEveryNthIter", 0, "print a progress row every n iterations")
	fs.BoolVar(&f.FinishWithFullCollect, "finishWithFullCollect", false, "collect until all finalizers have run")
	fs.BoolVar(&f.EndPanic, "endException", false, "panic at the end for post-mortem debugging")
	alias(fs, "endException", "ee")
	fs.Uint32Var(&f.Seed, "seed", 0, "random seed of every worker")

	fs.StringVar(&w.file, "file", "", "YAML workload file; no other workload flag may be given")
}

// ownFlags are allowed together with --file.
var ownFlags = map[string]bool{
	"file": true, "status-addr": true, "dry-run": true, "run-id": true,
}

// config builds the workload from the file or the flags.
func (w *workloadFlags) config(fs *pflag.FlagSet) (*workload.Config, error) {
	if w.file != "" {
		var conflict string
		fs.Visit(func(f *pflag.Flag) {
			if !ownFlags[f.Name] && conflict == "" {
				conflict = f.Name
			}
		})
		if conflict != "" {
			return nil, errFileWithFlags(conflict)
		}
		return workload.Load(w.file)
	}

	f := w.Flags
	if changed(fs, "totalLiveGB", "tlgb") {
		f.TotalLiveGB = &w.totalLiveGB
	}
	if changed(fs, "totalAllocGB", "tagb") {
		f.TotalAllocGB = &w.totalAllocGB
	}
	f.SizeDistribution = w.sizeDist == 1
	return f.Build()
}

// normalizeArgs accepts single-dash long flags such as -tc 4.
func normalizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if len(a) > 2 && a[0] == '-' && a[1] != '-' && isLetter(a[1]) {
			a = "-" + a
		}
		out[i] = a
	}
	return out
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
