package wire

// Payload type tags from the broker's published Open API schema.
// The 5x values are protocol-level; the 21xx values are trading-domain.
const (
	PayloadProtoMessage   uint32 = 5
	PayloadErrorRes       uint32 = 50
	PayloadHeartbeatEvent uint32 = 51

	PayloadApplicationAuthReq       uint32 = 2100
	PayloadApplicationAuthRes       uint32 = 2101
	PayloadAccountAuthReq           uint32 = 2102
	PayloadAccountAuthRes           uint32 = 2103
	PayloadVersionReq               uint32 = 2104
	PayloadVersionRes               uint32 = 2105
	PayloadNewOrderReq              uint32 = 2106
	PayloadTrailingSLChangedEvent   uint32 = 2107
	PayloadCancelOrderReq           uint32 = 2108
	PayloadAmendOrderReq            uint32 = 2109
	PayloadAmendPositionSLTPReq     uint32 = 2110
	PayloadClosePositionReq         uint32 = 2111
	PayloadAssetListReq             uint32 = 2112
	PayloadAssetListRes             uint32 = 2113
	PayloadSymbolsListReq           uint32 = 2114
	PayloadSymbolsListRes           uint32 = 2115
	PayloadSymbolByIDReq            uint32 = 2116
	PayloadSymbolByIDRes            uint32 = 2117
	PayloadSymbolChangedEvent       uint32 = 2120
	PayloadTraderReq                uint32 = 2121
	PayloadTraderRes                uint32 = 2122
	PayloadTraderUpdateEvent        uint32 = 2123
	PayloadReconcileReq             uint32 = 2124
	PayloadReconcileRes             uint32 = 2125
	PayloadExecutionEvent           uint32 = 2126
	PayloadSubscribeSpotsReq        uint32 = 2127
	PayloadSubscribeSpotsRes        uint32 = 2128
	PayloadUnsubscribeSpotsReq      uint32 = 2129
	PayloadUnsubscribeSpotsRes      uint32 = 2130
	PayloadSpotEvent                uint32 = 2131
	PayloadOrderErrorEvent          uint32 = 2132
	PayloadDealListReq              uint32 = 2133
	PayloadDealListRes              uint32 = 2134
	PayloadSubscribeLiveTrendbarReq uint32 = 2135
	PayloadUnsubLiveTrendbarReq     uint32 = 2136
	PayloadGetTrendbarsReq          uint32 = 2137
	PayloadGetTrendbarsRes          uint32 = 2138
	PayloadOAErrorRes               uint32 = 2142
	PayloadAccountsTokenInvalidated uint32 = 2147
	PayloadClientDisconnectEvent    uint32 = 2148
)
