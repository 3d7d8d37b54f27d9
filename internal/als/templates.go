package als

// variant is one pre-authored block template. dateSample is the constant
// rendered into the {date} placeholder; it shows the local date format and is
// never derived from the clock.
type variant struct {
	text       string
	dateSample string
}

// countryVariants holds the pre-authored template sets. Texts stay well under
// the NFC limit and use the region's own language and conventions where that
// is what a local client would surface.
var countryVariants = map[string][]variant{
	"US": {
		{
			text:       "Ambient context: United States. Local date format {date}, 12-hour clock. Measurements in miles and °F, currency USD ($). Emergency number 911. ZIP codes, state abbreviations (CA, NY, TX) in addresses.",
			dateSample: "08/14/2025",
		},
		{
			text:       "Regional setting: USA (en-US). Dates written {date}. Imperial units, Fahrenheit temperatures, US dollar pricing. Federal holidays and DMV, IRS, USPS as civic touchpoints. Dial 911 in emergencies.",
			dateSample: "08/14/2025",
		},
		{
			text:       "Locale: en-US, United States. Sample date {date}. Prices in USD, distances in miles, temperatures in °F. Sales tax added at checkout varies by state. Emergency services: 911.",
			dateSample: "08/14/2025",
		},
	},
	"GB": {
		{
			text:       "Ambient context: United Kingdom. Dates written {date}, 24-hour clock common. Currency GBP (£), distances in miles, temperatures in °C. Emergency number 999 (or 112). Postcodes like SW1A 1AA.",
			dateSample: "14/08/2025",
		},
		{
			text:       "Regional setting: UK (en-GB). Date format {date}. Pounds sterling, NHS for health services, councils for local administration. Dial 999 in emergencies. VAT included in displayed prices.",
			dateSample: "14/08/2025",
		},
	},
	"DE": {
		{
			text:       "Lokaler Kontext: Deutschland. Datumsformat {date}, 24-Stunden-Uhr. Währung Euro (€), Temperaturen in °C, Entfernungen in Kilometern. Notruf 112, Polizei 110. Fünfstellige Postleitzahlen, Mehrwertsteuer inklusive.",
			dateSample: "14.08.2025",
		},
		{
			text:       "Regionale Einstellung: Deutschland (de-DE). Datum im Format {date}. Preise in Euro inklusive MwSt., Maße metrisch. Behördengänge über Bürgeramt, Krankenversicherung Pflicht. Notruf: 112.",
			dateSample: "14.08.2025",
		},
		{
			text:       "Umgebungskontext: Deutschland. Beispieldatum {date}. Amtssprache Deutsch, Währung Euro, Einheiten metrisch. Feiertage teils landesabhängig. Im Notfall 112 wählen.",
			dateSample: "14.08.2025",
		},
	},
	"FR": {
		{
			text:       "Contexte local : France. Format de date {date}, horloge sur 24 heures. Monnaie euro (€), unités métriques, températures en °C. Urgences : 112 (ou 15 SAMU, 17 police). Codes postaux à cinq chiffres.",
			dateSample: "14/08/2025",
		},
		{
			text:       "Paramètres régionaux : France (fr-FR). Dates écrites {date}. Prix en euros TTC, distances en kilomètres. Services publics via mairie et préfecture. En cas d'urgence, composer le 112.",
			dateSample: "14/08/2025",
		},
	},
	"JP": {
		{
			text:       "ローカル設定: 日本。日付形式 {date}、24時間表記。通貨は円 (¥)、単位はメートル法、気温は摂氏。緊急通報は警察 110、消防・救急 119。郵便番号は7桁 (例: 100-0001)。",
			dateSample: "2025/08/14",
		},
		{
			text:       "地域コンテキスト: 日本 (ja-JP)。日付は {date} の形式。価格は円建て・消費税込み表示が一般的。住所は都道府県から記載。緊急時は 110 番または 119 番。",
			dateSample: "2025/08/14",
		},
	},
	"CA": {
		{
			text:       "Ambient context: Canada. Dates commonly {date}. Currency CAD ($), metric units with °C. Bilingual services (English/French). Emergency number 911. Postal codes like K1A 0B1, GST/HST added at checkout.",
			dateSample: "2025-08-14",
		},
		{
			text:       "Regional setting: Canada (en-CA/fr-CA). Date format {date}. Canadian dollars, kilometres, Celsius. Provincial health cards, Service Canada for federal matters. Dial 911 in emergencies.",
			dateSample: "2025-08-14",
		},
	},
	"AU": {
		{
			text:       "Ambient context: Australia. Dates written {date}. Currency AUD ($), metric units, temperatures in °C. Emergency number 000. Four-digit postcodes, GST included in prices, states like NSW, VIC, QLD.",
			dateSample: "14/08/2025",
		},
		{
			text:       "Regional setting: Australia (en-AU). Date format {date}. Australian dollars, kilometres and Celsius. Medicare for health services, myGov for federal services. In an emergency call 000.",
			dateSample: "14/08/2025",
		},
	},
	"IN": {
		{
			text:       "Ambient context: India. Dates written {date}. Currency INR (₹), metric units, temperatures in °C. Emergency number 112. Six-digit PIN codes, amounts grouped in lakh/crore, GST on invoices.",
			dateSample: "14-08-2025",
		},
		{
			text:       "Regional setting: India (en-IN/hi-IN). Date format {date}. Prices in rupees (₹), distances in kilometres. Aadhaar and PAN as common identifiers. Dial 112 for emergencies.",
			dateSample: "14-08-2025",
		},
	},
	"BR": {
		{
			text:       "Contexto local: Brasil. Formato de data {date}, relógio de 24 horas. Moeda real (R$), unidades métricas, temperaturas em °C. Emergências: 190 (polícia), 192 (SAMU). CEP de oito dígitos.",
			dateSample: "14/08/2025",
		},
		{
			text:       "Configuração regional: Brasil (pt-BR). Datas no formato {date}. Preços em reais, impostos geralmente inclusos. CPF como identificador usual, SUS para saúde pública. Emergência: 190.",
			dateSample: "14/08/2025",
		},
	},
	"IT": {
		{
			text:       "Contesto locale: Italia. Formato data {date}, orologio a 24 ore. Valuta euro (€), unità metriche, temperature in °C. Emergenze: 112. CAP a cinque cifre, IVA inclusa nei prezzi esposti.",
			dateSample: "14/08/2025",
		},
		{
			text:       "Impostazioni regionali: Italia (it-IT). Date scritte {date}. Prezzi in euro IVA inclusa, distanze in chilometri. Servizi pubblici tramite comune e ASL. In emergenza chiamare il 112.",
			dateSample: "14/08/2025",
		},
	},
	"ES": {
		{
			text:       "Contexto local: España. Formato de fecha {date}, reloj de 24 horas. Moneda euro (€), unidades métricas, temperaturas en °C. Emergencias: 112. Códigos postales de cinco dígitos, IVA incluido.",
			dateSample: "14/08/2025",
		},
		{
			text:       "Configuración regional: España (es-ES). Fechas escritas {date}. Precios en euros con IVA, distancias en kilómetros. Trámites en ayuntamientos y la Seguridad Social. Urgencias: 112.",
			dateSample: "14/08/2025",
		},
	},
	"NL": {
		{
			text:       "Lokale context: Nederland. Datumnotatie {date}, 24-uursklok. Valuta euro (€), metrische eenheden, temperaturen in °C. Noodnummer 112. Postcodes als 1012 AB, btw inbegrepen in prijzen.",
			dateSample: "14-08-2025",
		},
		{
			text:       "Regionale instelling: Nederland (nl-NL). Datums geschreven als {date}. Prijzen in euro's inclusief btw, afstanden in kilometers. DigiD voor overheidszaken. Bel 112 bij nood.",
			dateSample: "14-08-2025",
		},
	},
	"CH": {
		{
			text:       "Lokaler Kontext: Schweiz. Datumsformat {date}, 24-Stunden-Uhr. Währung Schweizer Franken (CHF), Einheiten metrisch, Temperaturen in °C. Notruf 112 (Polizei 117, Sanität 144). Vierstellige Postleitzahlen.",
			dateSample: "14.08.2025",
		},
		{
			text:       "Contexte local : Suisse (de/fr/it). Dates au format {date}. Prix en francs suisses (CHF), TVA incluse. Cantons et communes pour l'administration. Urgences : 112.",
			dateSample: "14.08.2025",
		},
	},
	"SG": {
		{
			text:       "Ambient context: Singapore. Dates written {date}. Currency SGD ($), metric units, temperatures in °C. Emergency numbers 999 (police) and 995 (ambulance/fire). Six-digit postal codes, GST itemized.",
			dateSample: "14/08/2025",
		},
		{
			text:       "Regional setting: Singapore (en-SG). Date format {date}. Singapore dollars, kilometres, Celsius. Singpass for government services, MRT for transit. Dial 999 in emergencies.",
			dateSample: "14/08/2025",
		},
	},
	"AE": {
		{
			text:       "Ambient context: United Arab Emirates. Dates written {date}. Currency AED (د.إ), metric units, temperatures in °C. Emergency number 999. Working week Monday-Friday, addresses use emirate and district.",
			dateSample: "14/08/2025",
		},
		{
			text:       "Regional setting: UAE (ar-AE/en). Date format {date}. Prices in dirhams, VAT itemized. Emirates ID as standard identifier. In an emergency dial 999.",
			dateSample: "14/08/2025",
		},
	},
	"SE": {
		{
			text:       "Lokal kontext: Sverige. Datumformat {date}, 24-timmarsklocka. Valuta svensk krona (kr), metriska enheter, temperaturer i °C. Nödnummer 112. Femsiffriga postnummer, moms ingår i priser.",
			dateSample: "2025-08-14",
		},
		{
			text:       "Regional inställning: Sverige (sv-SE). Datum skrivs {date}. Priser i kronor inklusive moms, avstånd i kilometer. BankID för myndighetstjänster. Ring 112 vid nödläge.",
			dateSample: "2025-08-14",
		},
	},
	"MX": {
		{
			text:       "Contexto local: México. Formato de fecha {date}. Moneda peso mexicano ($), unidades métricas, temperaturas en °C. Emergencias: 911. Códigos postales de cinco dígitos, IVA desglosado en facturas.",
			dateSample: "14/08/2025",
		},
		{
			text:       "Configuración regional: México (es-MX). Fechas escritas {date}. Precios en pesos, distancias en kilómetros. CURP y RFC como identificadores usuales. En emergencias marcar 911.",
			dateSample: "14/08/2025",
		},
	},
	"KR": {
		{
			text:       "지역 설정: 대한민국. 날짜 형식 {date}, 24시간제 사용. 통화는 원 (₩), 미터법 단위, 기온은 섭씨. 긴급 전화는 경찰 112, 소방·구급 119. 우편번호는 5자리.",
			dateSample: "2025. 08. 14.",
		},
		{
			text:       "로컬 컨텍스트: 한국 (ko-KR). 날짜는 {date} 형식. 가격은 원화 기준, 부가세 포함 표시가 일반적. 행정 업무는 주민센터와 정부24. 긴급 시 112 또는 119.",
			dateSample: "2025. 08. 14.",
		},
	},
	"ZA": {
		{
			text:       "Ambient context: South Africa. Dates written {date}. Currency ZAR (R), metric units, temperatures in °C. Emergency number 10111 (police) or 112 from mobiles. Four-digit postal codes, VAT included.",
			dateSample: "2025/08/14",
		},
		{
			text:       "Regional setting: South Africa (en-ZA). Date format {date}. Prices in rand, distances in kilometres. SARS for tax, Home Affairs for documents. Dial 112 from a mobile in emergencies.",
			dateSample: "2025/08/14",
		},
	},
	"NZ": {
		{
			text:       "Ambient context: New Zealand. Dates written {date}. Currency NZD ($), metric units, temperatures in °C. Emergency number 111. Four-digit postcodes, GST included in displayed prices.",
			dateSample: "14/08/2025",
		},
		{
			text:       "Regional setting: New Zealand (en-NZ). Date format {date}. New Zealand dollars, kilometres, Celsius. IRD numbers for tax, local councils for services. Dial 111 in emergencies.",
			dateSample: "14/08/2025",
		},
	},
}

// variantsFor returns the authored template set for a country. ok is false
// when no set exists; nothing is synthesized for unknown codes.
func variantsFor(country string) ([]variant, bool) {
	vs, ok := countryVariants[country]
	return vs, ok
}
