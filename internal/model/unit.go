package model

import (
	"fmt"
	"strings"
)

// Unit is the declared unit of a raw value. The zero value means the provider
// did not declare one.
type Unit string

const (
	UnitNone Unit = ""

	// Volume units. One lot is 100 shares.
	UnitShares Unit = "shares"
	UnitLots   Unit = "lots"

	// Money units, all CNY.
	UnitYuan Unit = "yuan"
	UnitWan  Unit = "wan" // 10^4 yuan
	UnitYi   Unit = "yi"  // 10^8 yuan

	UnitPercent Unit = "percent"
)

var unitAliases = map[string]Unit{
	"":        UnitNone,
	"shares":  UnitShares,
	"share":   UnitShares,
	"股":       UnitShares,
	"lots":    UnitLots,
	"lot":     UnitLots,
	"手":       UnitLots,
	"yuan":    UnitYuan,
	"元":       UnitYuan,
	"wan":     UnitWan,
	"万":       UnitWan,
	"万元":      UnitWan,
	"yi":      UnitYi,
	"亿":       UnitYi,
	"亿元":      UnitYi,
	"percent": UnitPercent,
	"%":       UnitPercent,
}

// ParseUnit maps a provider-declared unit string to a Unit. Unrecognized
// strings are an error.
func ParseUnit(s string) (Unit, error) {
	if u, ok := unitAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return u, nil
	}
	return UnitNone, fmt.Errorf("unknown unit %q", s)
}

// IsVolume reports whether u is a share-count unit.
func (u Unit) IsVolume() bool { return u == UnitShares || u == UnitLots }

// IsMoney reports whether u is a currency magnitude unit.
func (u Unit) IsMoney() bool { return u == UnitYuan || u == UnitWan || u == UnitYi }
