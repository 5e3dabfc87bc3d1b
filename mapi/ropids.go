package mapi

import "fmt"

const (
	RopRelease            uint8 = 0x01
	RopOpenFolder         uint8 = 0x02
	RopOpenMessage        uint8 = 0x03
	RopGetContentsTable   uint8 = 0x05
	RopCreateMessage      uint8 = 0x06
	RopGetPropertiesAll   uint8 = 0x08
	RopSetProperties      uint8 = 0x0A
	RopSaveChangesMessage uint8 = 0x0C
	RopSetColumns         uint8 = 0x12
	RopQueryRows          uint8 = 0x15
	RopDeleteMessages     uint8 = 0x1E
	RopGetRulesTable      uint8 = 0x3F
	RopModifyRules        uint8 = 0x41
	RopLongTermIDFromID   uint8 = 0x43
	RopLogon              uint8 = 0xFE
)

var ropNames = map[uint8]string{
	RopRelease:            "RopRelease",
	RopOpenFolder:         "RopOpenFolder",
	RopOpenMessage:        "RopOpenMessage",
	RopGetContentsTable:   "RopGetContentsTable",
	RopCreateMessage:      "RopCreateMessage",
	RopGetPropertiesAll:   "RopGetPropertiesAll",
	RopSetProperties:      "RopSetProperties",
	RopSaveChangesMessage: "RopSaveChangesMessage",
	RopSetColumns:         "RopSetColumns",
	RopQueryRows:          "RopQueryRows",
	RopDeleteMessages:     "RopDeleteMessages",
	RopGetRulesTable:      "RopGetRulesTable",
	RopModifyRules:        "RopModifyRules",
	RopLongTermIDFromID:   "RopLongTermIdFromId",
	RopLogon:              "RopLogon",
}

func ropName(id uint8) string {
	if n, ok := ropNames[id]; ok {
		return n
	}
	return fmt.Sprintf("Rop(0x%02X)", id)
}
