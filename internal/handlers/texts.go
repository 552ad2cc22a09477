package handlers

const (
	kbNext     = "Next prayer"
	kbToday    = "Today"
	kbLocation = "Location"
	kbStop     = "Stop adhan"
)

const (
	cbStopAudio = "audio:stop"
	cbRefresh   = "next:refresh"
	cbRelocate  = "location:refresh"
)

const (
	txtWelcome = "Assalamualaikum! You will get a message at every prayer time.\n" +
		"Use the keyboard below or /next, /today, /location. /stop to unsubscribe."
	txtBye        = "Unsubscribed. Send /start to subscribe again."
	txtHelp       = "/next - next prayer and countdown\n/today - today's times\n/location - current zone\n/stop - unsubscribe"
	txtUnknown    = "Unknown command. Try /help."
	txtAudioOff   = "Adhan stopped."
	txtRelocating = "Updating location..."
	txtNoZone     = "Location not resolved yet."
	txtFailed     = "Something went wrong, try again later."
)
