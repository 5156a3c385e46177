package uploader

import (
	"fmt"
	"sort"
)

// Categories maps mirror host category names to their form codes.
var Categories = map[string]int{
	"World News":                   2,
	"Ukraine":                      37,
	"Regional News":                3,
	"Other News":                   4,
	"Politics":                     5,
	"Syria":                        33,
	"Afghanistan":                  8,
	"Iraq":                         7,
	"Iran":                         9,
	"Other Middle East":            10,
	"WTF":                          13,
	"Creative":                     14,
	"Other Entertainment":          16,
	"Music":                        20,
	"Liveleak Challenges":          21,
	"Weapons":                      22,
	"Sports":                       29,
	"Yawn":                         34,
	"Vehicles":                     36,
	"LiveLeaks":                    17,
	"Citizen Journalism":           19,
	"Your Say":                     11,
	"Hobbies":                      35,
	"Other Items from Liveleakers": 24,
	"Religion":                     26,
	"Conspiracy":                   27,
	"Propaganda":                   28,
	"Science and Technology":       30,
	"Nature":                       31,
	"History":                      32,
	"Other":                        18,
}

// CategoryCode returns the numeric code for name.
func CategoryCode(name string) (int, error) {
	code, ok := Categories[name]
	if !ok {
		return 0, &ProtocolError{Step: "publish", Msg: fmt.Sprintf("category %q", name), Err: ErrUnknownCategory}
	}
	return code, nil
}

// CategoryNames returns every known category name, sorted.
func CategoryNames() []string {
	names := make([]string, 0, len(Categories))
	for name := range Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
