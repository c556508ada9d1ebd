package scenarios

import "github.com/nginxlive/livetest/torture"

// All returns every scenario, with fault scenarios pointed at stubURL.
func All(stubURL string) []torture.Scenario {
	return []torture.Scenario{
		NewChannelFreeDuringFillerWait(stubURL),
		NewChannelFreeDuringIndexWrite(stubURL),
		NewChannelFreeDuringSetupRead(stubURL),
		NewChannelFreeDuringSetupWrite(stubURL),
		NewInputDelayMemLimit(),
		NewPTSForwardJump(),
		NewTimelinePeriodGap(),
		NewVodFinalize(),
	}
}

// Register adds every scenario to the suite.
func Register(s *torture.Suite) {
	for _, sc := range All(s.Env().StubURL()) {
		s.RegisterScenario(sc)
	}
}
