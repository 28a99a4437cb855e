package bazi

import "github.com/smallbiznis/destiny/internal/calendar"

// hiddenStems lists the stems stored in each branch, main qi first.
var hiddenStems = map[calendar.Branch][]calendar.Stem{
	calendar.BranchZi:   {9},
	calendar.BranchChou: {5, 9, 7},
	calendar.BranchYin:  {0, 2, 4},
	calendar.BranchMao:  {1},
	calendar.BranchChen: {4, 1, 9},
	calendar.BranchSi:   {2, 6, 4},
	calendar.BranchWu:   {3, 5},
	calendar.BranchWei:  {5, 3, 1},
	calendar.BranchShen: {6, 8, 4},
	calendar.BranchYou:  {7},
	calendar.BranchXu:   {4, 7, 3},
	calendar.BranchHai:  {8, 0},
}

// tenGodNames is indexed by element distance, then by matching polarity.
var tenGodNames = [5][2]string{
	{"rob_wealth", "friend"},
	{"hurting_officer", "eating_god"},
	{"direct_wealth", "indirect_wealth"},
	{"direct_officer", "seven_killings"},
	{"direct_resource", "indirect_resource"},
}

// TenGod names the relation of another stem to the day master.
func TenGod(dayMaster, other calendar.Stem) string {
	distance := ((int(other)/2-int(dayMaster)/2)%5 + 5) % 5
	samePolarity := 0
	if dayMaster.Yang() == other.Yang() {
		samePolarity = 1
	}
	return tenGodNames[distance][samePolarity]
}
