package bucket

// SizeSlot is one entry of an observed object size histogram.
type SizeSlot struct {
	Size  uint32
	Count uint32
}

// OrdinaryAndLargeSlots is an object size histogram for the ordinary and
// large regions taken from a production server workload. The smallest sizes
// are left out because every payload object carries a small wrapper of its own.
var OrdinaryAndLargeSlots = []SizeSlot{
	{56, 12134890},
	{64, 7554729},
	{72, 4745645},
	{80, 8807161},
	{88, 4490991},
	{96, 3713033},
	{104, 3201425},
	{112, 854877},
	{120, 730058},
	{128, 592202},
	{136, 2656705},
	{152, 820536},
	{168, 658168},
	{176, 724457},
	{192, 633177},
	{216, 571147},
	{240, 566779},
	{264, 413803},
	{280, 314899},
	{304, 357706},
	{328, 314889},
	{368, 292992},
	{408, 242612},
	{432, 620812},
	{496, 207587},
	{536, 188057},
	{568, 440902},
	{656, 165109},
	{752, 145145},
	{896, 121960},
	{1088, 104732},
	{1360, 85235},
	{1600, 69567},
	{2032, 167972},
	{2392, 51544},
	{2488, 44129},
	{3936, 35277},
	{4120, 30876},
	{8216, 21207},
	{15048, 10583},
	{20032, 7304},
	{37496, 4076},
	{65560, 2540},
	{87168, 1430},
	{96096, 1292},
	{97200, 4388},
	{106040, 1199},
	{108776, 1151},
	{110440, 1143},
	{113752, 1135},
	{117680, 1109},
	{130152, 1053},
	{131096, 46426},
	{140160, 1576},
	{175640, 1249},
	{202080, 2309},
	{270016, 813},
	{318832, 683},
	{454584, 568},
	{524312, 487},
	{674704, 370},
	{1453768, 216},
	{5639144, 85},
	{32000176, 26},
	{33554456, 1},
}

// PinnedSlots is the matching histogram for the pinned region.
var PinnedSlots = []SizeSlot{
	{56, 16},
	{1048, 1},
	{2072, 1},
	{4120, 1},
	{8184, 2},
	{8216, 1},
	{16344, 2},
	{16408, 1},
	{32664, 2},
	{32792, 1},
	{65304, 2},
	{65560, 1},
	{130584, 1},
	{131064, 160},
	{2259408, 1},
}

// Size limits used when expanding the built-in histograms.
var (
	OrdinaryLimit = SizeRange{Low: 48, High: 84_999}
	LargeLimit    = SizeRange{Low: 85_000, High: ^uint32(0)}
	PinnedLimit   = SizeRange{Low: 24, High: 10_000_000}
)

// FromDistribution expands a histogram into one Spec per slot inside limit.
// Each slot covers the sizes above the previous slot, shifted by overhead so
// that the payload rather than the wrapper follows the histogram. The weight
// is scaled by the survival interval so that survivors keep the histogram's
// shape. All intervals and the region flag are copied from template.
func FromDistribution(slots []SizeSlot, limit SizeRange, template Spec, overhead uint32) []Spec {
	var specs []Spec
	lowSize := limit.Low
	for _, slot := range slots {
		if slot.Size < limit.Low || limit.High < slot.Size {
			continue
		}
		spec := template
		spec.SizeRange = SizeRange{Low: lowSize + overhead + 1, High: slot.Size + overhead + 1}
		spec.Weight = float64(slot.Count) * float64(max(template.SurvInterval, 1))
		specs = append(specs, spec)
		lowSize = slot.Size
	}
	return specs
}
