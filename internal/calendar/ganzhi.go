package calendar

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stem is one of the ten heavenly stems, 0 = Jia.
type Stem int

// Branch is one of the twelve earthly branches, 0 = Zi.
type Branch int

// Element is one of the five phases.
type Element string

const (
	ElementWood  Element = "wood"
	ElementFire  Element = "fire"
	ElementEarth Element = "earth"
	ElementMetal Element = "metal"
	ElementWater Element = "water"
)

const (
	BranchZi Branch = iota
	BranchChou
	BranchYin
	BranchMao
	BranchChen
	BranchSi
	BranchWu
	BranchWei
	BranchShen
	BranchYou
	BranchXu
	BranchHai
)

var (
	stemNames   = [10]string{"jia", "yi", "bing", "ding", "wu", "ji", "geng", "xin", "ren", "gui"}
	stemHanzi   = [10]string{"甲", "乙", "丙", "丁", "戊", "己", "庚", "辛", "壬", "癸"}
	branchNames = [12]string{"zi", "chou", "yin", "mao", "chen", "si", "wu", "wei", "shen", "you", "xu", "hai"}
	branchHanzi = [12]string{"子", "丑", "寅", "卯", "辰", "巳", "午", "未", "申", "酉", "戌", "亥"}

	stemElements   = [10]Element{ElementWood, ElementWood, ElementFire, ElementFire, ElementEarth, ElementEarth, ElementMetal, ElementMetal, ElementWater, ElementWater}
	branchElements = [12]Element{ElementWater, ElementEarth, ElementWood, ElementWood, ElementEarth, ElementFire, ElementFire, ElementEarth, ElementMetal, ElementMetal, ElementEarth, ElementWater}

	// nayinElements is indexed by sexagenary index / 2.
	nayinElements = [30]Element{
		ElementMetal, ElementFire, ElementWood, ElementEarth, ElementMetal, ElementFire,
		ElementWater, ElementEarth, ElementMetal, ElementWood, ElementWater, ElementEarth,
		ElementFire, ElementWood, ElementWater, ElementMetal, ElementFire, ElementWood,
		ElementEarth, ElementMetal, ElementFire, ElementWater, ElementEarth, ElementMetal,
		ElementWood, ElementWater, ElementEarth, ElementFire, ElementWood, ElementWater,
	}
)

func (s Stem) Name() string       { return stemNames[mod(int(s), 10)] }
func (s Stem) Hanzi() string      { return stemHanzi[mod(int(s), 10)] }
func (s Stem) Element() Element   { return stemElements[mod(int(s), 10)] }
func (s Stem) Yang() bool         { return mod(int(s), 2) == 0 }
func (b Branch) Name() string     { return branchNames[mod(int(b), 12)] }
func (b Branch) Hanzi() string    { return branchHanzi[mod(int(b), 12)] }
func (b Branch) Element() Element { return branchElements[mod(int(b), 12)] }

func (b Branch) String() string { return b.Name() }
func (s Stem) String() string   { return s.Name() }

// MarshalJSON renders a branch by name so stored moments stay readable.
func (b Branch) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Name())
}

func (b *Branch) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var idx int
		if err2 := json.Unmarshal(data, &idx); err2 != nil {
			return err
		}
		*b = Branch(mod(idx, 12))
		return nil
	}
	for i, n := range branchNames {
		if n == name {
			*b = Branch(i)
			return nil
		}
	}
	return fmt.Errorf("calendar: unknown branch %q", name)
}

// Pillar is a stem-branch pair from the sexagenary cycle.
type Pillar struct {
	Stem   Stem   `json:"stem"`
	Branch Branch `json:"branch"`
}

// PillarFromIndex returns the pillar at position idx of the sixty cycle, 0 = Jia-Zi.
func PillarFromIndex(idx int) Pillar {
	idx = mod(idx, 60)
	return Pillar{Stem: Stem(idx % 10), Branch: Branch(idx % 12)}
}

// Index returns the position of the pillar in the sixty cycle.
func (p Pillar) Index() int {
	s, b := mod(int(p.Stem), 10), mod(int(p.Branch), 12)
	for i := 0; i < 6; i++ {
		if idx := s + 10*i; idx%12 == b {
			return idx
		}
	}
	return -1
}

func (p Pillar) Hanzi() string { return p.Stem.Hanzi() + p.Branch.Hanzi() }

func (p Pillar) String() string { return p.Stem.Name() + "-" + p.Branch.Name() }

// Nayin returns the sound element of the pillar.
func (p Pillar) Nayin() Element {
	idx := p.Index()
	if idx < 0 {
		return ""
	}
	return nayinElements[idx/2]
}

func (p Pillar) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Stem   string `json:"stem"`
		Branch string `json:"branch"`
		Hanzi  string `json:"hanzi"`
	}{p.Stem.Name(), p.Branch.Name(), p.Hanzi()})
}

var dayPillarEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// DayPillar returns the sexagenary day of a solar date. 1900-01-01 is Jia-Xu.
func DayPillar(date SolarDate) Pillar {
	return PillarFromIndex(daysBetween(dayPillarEpoch, date.time()) + 10)
}

// YearPillarOf returns the pillar of a year counted from its own new year.
func YearPillarOf(year int) Pillar {
	return PillarFromIndex(year - 4)
}

// HourBranchOf maps a clock hour to its double-hour branch. 23:00 and 00:00 are both Zi.
func HourBranchOf(hour int) Branch {
	return Branch(((hour + 1) / 2) % 12)
}

// HourStem derives the hour stem from the day stem.
func HourStem(dayStem Stem, hour Branch) Stem {
	return Stem(mod(mod(int(dayStem), 5)*2+int(hour), 10))
}

// MonthStem derives the stem of the k-th solar month (0 = Yin month) from the year stem.
func MonthStem(yearStem Stem, k int) Stem {
	first := mod(mod(int(yearStem), 5)*2+2, 10)
	return Stem(mod(first+k, 10))
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
