package ziwei

import "github.com/smallbiznis/destiny/internal/calendar"

var palaceNames = [12]string{
	"life", "siblings", "spouse", "children", "wealth", "health",
	"travel", "friends", "career", "property", "fortune", "parents",
}

var bureauNumbers = map[calendar.Element]int{
	calendar.ElementWater: 2,
	calendar.ElementWood:  3,
	calendar.ElementMetal: 4,
	calendar.ElementEarth: 5,
	calendar.ElementFire:  6,
}

var starOrder = []string{
	"ziwei", "tianji", "taiyang", "wuqu", "tiantong", "lianzhen",
	"tianfu", "taiyin", "tanlang", "jumen", "tianxiang", "tianliang", "qisha", "pojun",
	"wenchang", "wenqu", "zuofu", "youbi",
}

// transformations maps each year stem to the stars taking lu, quan, ke and ji.
var transformations = [10]map[string]string{
	{"lianzhen": "lu", "pojun": "quan", "wuqu": "ke", "taiyang": "ji"},
	{"tianji": "lu", "tianliang": "quan", "ziwei": "ke", "taiyin": "ji"},
	{"tiantong": "lu", "tianji": "quan", "wenchang": "ke", "lianzhen": "ji"},
	{"taiyin": "lu", "tiantong": "quan", "tianji": "ke", "jumen": "ji"},
	{"tanlang": "lu", "taiyin": "quan", "youbi": "ke", "tianji": "ji"},
	{"wuqu": "lu", "tanlang": "quan", "tianliang": "ke", "wenqu": "ji"},
	{"taiyang": "lu", "wuqu": "quan", "taiyin": "ke", "tiantong": "ji"},
	{"jumen": "lu", "taiyang": "quan", "wenqu": "ke", "wenchang": "ji"},
	{"tianliang": "lu", "ziwei": "quan", "zuofu": "ke", "wuqu": "ji"},
	{"pojun": "lu", "jumen": "quan", "taiyin": "ke", "tanlang": "ji"},
}
