// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package whip

type Metrics interface {
	IncWHIPSessions(channelID uint64)
	DecWHIPSessions(channelID uint64)
	IncWHIPNegotiations(status string)
	IncWHIPTeardowns(trigger string)
	IncWHIPAuthFailures()
}
